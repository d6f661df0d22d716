// Package driver implements the concrete transport endpoints dispatched
// by URL scheme: serial, TCP/UDP client and server, tlog file reader and
// writer, and the fake source/sink pair used for loopback testing.
package driver

import "errors"

// Sentinel errors surfaced by driver Run loops. ErrTransportClosed
// marks a clean EOF on the transport (the remote side hung up);
// ErrUnsupportedURL marks an endpoint URL whose scheme no driver
// claims.
var (
	ErrTransportClosed = errors.New("driver: transport closed")
	ErrUnsupportedURL  = errors.New("driver: unsupported url")
)
