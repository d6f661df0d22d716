package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// TCPServer is the tcpserver://<addr> driver. Each accepted connection
// becomes a transient receive/send pair sharing the driver's single
// accumulator pair.
type TCPServer struct {
	ListenAddr             string
	DiscardInvalidChecksum bool
	OnInput, OnOutput      *callbacks.Set

	inAcc, outAcc hub.Accumulator
	nextConnID    atomic.Uint64

	addrMu    sync.RWMutex
	boundAddr string
	readyOnce sync.Once
	readyCh   chan struct{}
}

// NewTCPServerFromURL builds a TCPServer driver from a tcpserver:// URL.
func NewTCPServerFromURL(u *url.URL) (*TCPServer, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("tcpserver: missing host:port in %q", u.String())
	}
	return &TCPServer{ListenAddr: u.Host, DiscardInvalidChecksum: true}, nil
}

func (s *TCPServer) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "tcpserver",
		ValidSchemes: []string{"tcpserver"},
		CLIExamples:  []string{"tcpserver://0.0.0.0:5760"},
	}
}

func (s *TCPServer) Stats() hub.AccumulatedDriverStats {
	in := s.inAcc.Snapshot()
	out := s.outAcc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in, Output: &out}
}

func (s *TCPServer) ResetStats() {
	s.inAcc.Reset()
	s.outAcc.Reset()
}

// Addr returns the listener's actual bound address, or "" before Run
// has bound it (Ready reports when it has) — useful when ListenAddr was
// configured with a ":0" ephemeral port, as in tests.
func (s *TCPServer) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.boundAddr
}

// Ready returns a channel closed once the listener has bound.
func (s *TCPServer) Ready() <-chan struct{} {
	s.addrMu.Lock()
	if s.readyCh == nil {
		s.readyCh = make(chan struct{})
	}
	ch := s.readyCh
	s.addrMu.Unlock()
	return ch
}

func (s *TCPServer) setBoundAddr(addr string) {
	s.addrMu.Lock()
	s.boundAddr = addr
	if s.readyCh == nil {
		s.readyCh = make(chan struct{})
	}
	ch := s.readyCh
	s.addrMu.Unlock()
	s.readyOnce.Do(func() { close(ch) })
}

// Run binds a listener and accepts connections until ctx is cancelled.
func (s *TCPServer) Run(ctx context.Context, sender *hub.Sender) error {
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		metrics.IncError(metrics.ErrTransportOpen)
		return fmt.Errorf("tcpserver: listen %s: %w", s.ListenAddr, err)
	}
	logging.L().Info("tcpserver_listen", "addr", ln.Addr().String())
	s.setBoundAddr(ln.Addr().String())

	var wg sync.WaitGroup
	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				time.Sleep(200 * time.Millisecond)
				continue
			}
			wg.Wait()
			return err
		}
		id := s.nextConnID.Add(1)
		origin := fmt.Sprintf("%s#%d", conn.RemoteAddr().String(), id)
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(30 * time.Second)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			err := runStreamDuplex(ctx, endpoint{reader: conn, writer: conn, closer: conn}, sender, origin, s.DiscardInvalidChecksum, s.OnInput, s.OnOutput, &s.inAcc, &s.outAcc)
			if err != nil && ctx.Err() == nil {
				logging.L().Info("tcpserver_conn_closed", "origin", origin, "error", err)
			}
		}()
	}
}
