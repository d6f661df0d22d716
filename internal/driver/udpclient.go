package driver

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// UDPClient is the udpclient://<host:port> driver: a connected UDP
// socket to a single peer. Each Read yields one datagram, fed whole to
// the frame reader (frames typically fit in one datagram; the reader
// tolerates multi-frame and partial-tail datagrams anyway).
type UDPClient struct {
	Addr                   string
	DiscardInvalidChecksum bool
	OnInput, OnOutput      *callbacks.Set

	inAcc, outAcc hub.Accumulator
}

// NewUDPClientFromURL builds a UDPClient driver from a udpclient:// URL.
func NewUDPClientFromURL(u *url.URL) (*UDPClient, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("udpclient: missing host:port in %q", u.String())
	}
	return &UDPClient{Addr: u.Host, DiscardInvalidChecksum: true}, nil
}

func (c *UDPClient) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "udpclient",
		ValidSchemes: []string{"udpclient"},
		CLIExamples:  []string{"udpclient://host:14550"},
	}
}

func (c *UDPClient) Stats() hub.AccumulatedDriverStats {
	in := c.inAcc.Snapshot()
	out := c.outAcc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in, Output: &out}
}

func (c *UDPClient) ResetStats() {
	c.inAcc.Reset()
	c.outAcc.Reset()
}

// Run dials the remote peer and runs the duplex loop until ctx is
// cancelled or the socket errors.
func (c *UDPClient) Run(ctx context.Context, sender *hub.Sender) error {
	raddr, err := net.ResolveUDPAddr("udp", c.Addr)
	if err != nil {
		metrics.IncError(metrics.ErrTransportOpen)
		return fmt.Errorf("udpclient: resolve %s: %w", c.Addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		metrics.IncError(metrics.ErrTransportOpen)
		return fmt.Errorf("udpclient: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	logging.L().Info("udpclient_connected", "addr", c.Addr)
	return runStreamDuplex(ctx, endpoint{reader: conn, writer: conn, closer: conn}, sender, c.Addr, c.DiscardInvalidChecksum, c.OnInput, c.OnOutput, &c.inAcc, &c.outAcc)
}
