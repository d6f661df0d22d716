package driver

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/metrics"
)

const (
	tcpClientReconnectMin = 200 * time.Millisecond
	tcpClientReconnectMax = 10 * time.Second
	tcpDialTimeout        = 5 * time.Second
)

// TCPClient is the tcpclient://<host:port> driver. It reconnects with
// exponential back-off, capped, on disconnect.
type TCPClient struct {
	Addr                   string
	DiscardInvalidChecksum bool
	OnInput, OnOutput      *callbacks.Set

	inAcc, outAcc hub.Accumulator
}

// NewTCPClientFromURL builds a TCPClient driver from a tcpclient:// URL.
func NewTCPClientFromURL(u *url.URL) (*TCPClient, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("tcpclient: missing host:port in %q", u.String())
	}
	return &TCPClient{Addr: u.Host, DiscardInvalidChecksum: true}, nil
}

func (c *TCPClient) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "tcpclient",
		ValidSchemes: []string{"tcpclient"},
		CLIExamples:  []string{"tcpclient://host:5760"},
	}
}

func (c *TCPClient) Stats() hub.AccumulatedDriverStats {
	in := c.inAcc.Snapshot()
	out := c.outAcc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in, Output: &out}
}

func (c *TCPClient) ResetStats() {
	c.inAcc.Reset()
	c.outAcc.Reset()
}

// Run connects and reconnects, with back-off, until ctx is cancelled.
func (c *TCPClient) Run(ctx context.Context, sender *hub.Sender) error {
	backoff := tcpClientReconnectMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dialer := net.Dialer{Timeout: tcpDialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.IncError(metrics.ErrTransportOpen)
			metrics.IncReconnectAttempt("tcpclient")
			logging.L().Warn("tcpclient_dial_failed", "addr", c.Addr, "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > tcpClientReconnectMax {
				backoff = tcpClientReconnectMax
			}
			continue
		}

		logging.L().Info("tcpclient_connected", "addr", c.Addr)
		backoff = tcpClientReconnectMin
		err = runStreamDuplex(ctx, endpoint{reader: conn, writer: conn, closer: conn}, sender, c.Addr, c.DiscardInvalidChecksum, c.OnInput, c.OnOutput, &c.inAcc, &c.outAcc)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.L().Warn("tcpclient_disconnected", "addr", c.Addr, "error", err)
	}
}
