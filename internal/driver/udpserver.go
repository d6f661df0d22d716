package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/ampio/mavlink-router/internal/broadcast"
	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/mavlink"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// UDPServer is the udpserver://<addr> driver. Unlike TCP, a single
// socket serves every peer; the origin used for loopback suppression
// is the peer's socket address, and outbound frames are fanned out to
// every peer seen so far except the one that originated the frame.
type UDPServer struct {
	ListenAddr             string
	DiscardInvalidChecksum bool
	OnInput, OnOutput      *callbacks.Set

	inAcc, outAcc hub.Accumulator

	peersMu sync.RWMutex
	peers   map[string]*net.UDPAddr

	addrMu    sync.RWMutex
	boundAddr string
	readyOnce sync.Once
	readyCh   chan struct{}
}

// NewUDPServerFromURL builds a UDPServer driver from a udpserver:// URL.
func NewUDPServerFromURL(u *url.URL) (*UDPServer, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("udpserver: missing host:port in %q", u.String())
	}
	return &UDPServer{ListenAddr: u.Host, DiscardInvalidChecksum: true, peers: make(map[string]*net.UDPAddr)}, nil
}

func (s *UDPServer) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "udpserver",
		ValidSchemes: []string{"udpserver"},
		CLIExamples:  []string{"udpserver://0.0.0.0:14550"},
	}
}

func (s *UDPServer) Stats() hub.AccumulatedDriverStats {
	in := s.inAcc.Snapshot()
	out := s.outAcc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in, Output: &out}
}

func (s *UDPServer) ResetStats() {
	s.inAcc.Reset()
	s.outAcc.Reset()
}

// Addr returns the socket's actual bound address once Run has bound it
// — useful when Addr was configured with a ":0" ephemeral port.
func (s *UDPServer) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.boundAddr
}

// Ready returns a channel closed once the socket has bound.
func (s *UDPServer) Ready() <-chan struct{} {
	s.addrMu.Lock()
	if s.readyCh == nil {
		s.readyCh = make(chan struct{})
	}
	ch := s.readyCh
	s.addrMu.Unlock()
	return ch
}

func (s *UDPServer) setBoundAddr(addr string) {
	s.addrMu.Lock()
	s.boundAddr = addr
	if s.readyCh == nil {
		s.readyCh = make(chan struct{})
	}
	ch := s.readyCh
	s.addrMu.Unlock()
	s.readyOnce.Do(func() { close(ch) })
}

func (s *UDPServer) rememberPeer(addr *net.UDPAddr) {
	s.peersMu.Lock()
	if s.peers == nil {
		s.peers = make(map[string]*net.UDPAddr)
	}
	s.peers[addr.String()] = addr
	s.peersMu.Unlock()
}

func (s *UDPServer) snapshotPeers() map[string]*net.UDPAddr {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	out := make(map[string]*net.UDPAddr, len(s.peers))
	for k, v := range s.peers {
		out[k] = v
	}
	return out
}

// Run binds the UDP socket and races the receive and fan-out send
// tasks until ctx is cancelled.
func (s *UDPServer) Run(ctx context.Context, sender *hub.Sender) error {
	laddr, err := net.ResolveUDPAddr("udp", s.ListenAddr)
	if err != nil {
		metrics.IncError(metrics.ErrTransportOpen)
		return fmt.Errorf("udpserver: resolve %s: %w", s.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		metrics.IncError(metrics.ErrTransportOpen)
		return fmt.Errorf("udpserver: listen %s: %w", s.ListenAddr, err)
	}
	defer conn.Close()
	logging.L().Info("udpserver_listen", "addr", conn.LocalAddr().String())
	s.setBoundAddr(conn.LocalAddr().String())

	errCh := make(chan error, 2)
	go func() { errCh <- s.receiveLoop(ctx, conn, sender) }()
	go func() { errCh <- s.sendLoop(ctx, sender, conn) }()

	go func() { <-ctx.Done(); _ = conn.Close() }()
	err = <-errCh
	return err
}

func (s *UDPServer) receiveLoop(ctx context.Context, conn *net.UDPConn, sender *hub.Sender) error {
	buf := make([]byte, 2048)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.IncError(metrics.ErrTransportRead)
			return err
		}
		if n == 0 {
			continue
		}
		s.rememberPeer(peer)
		origin := peer.String()
		// A fresh reader per datagram: the peer's address is this
		// datagram's origin, so loopback suppression on the send
		// side can key off it.
		reader := mavlink.NewFrameReader(origin, s.DiscardInvalidChecksum)
		pkt := bytes.NewBuffer(buf[:n])
		nowUs := time.Now().UnixMicro()
		_ = reader.ReadAll(pkt, nowUs, func(f *mavlink.Frame) error {
			if s.OnInput != nil {
				if cerr := s.OnInput.CallAll(ctx, f); cerr != nil {
					metrics.IncCallbackDrop("input")
					return nil
				}
			}
			sender.Publish(f)
			s.inAcc.Observe(len(f.Raw()), 0, nowUs)
			metrics.IncFramesDecoded(origin)
			return nil
		})
	}
}

func (s *UDPServer) sendLoop(ctx context.Context, sender *hub.Sender, conn *net.UDPConn) error {
	recv := sender.Subscribe()
	for {
		f, err := recv.Recv(ctx)
		if err != nil {
			var lag *broadcast.LagError
			if errors.As(err, &lag) {
				metrics.IncHubLagged()
				logging.L().Warn("subscriber_lagged", "origin", s.ListenAddr, "skipped", lag.N)
				continue
			}
			return err
		}
		if s.OnOutput != nil {
			if cerr := s.OnOutput.CallAll(ctx, f); cerr != nil {
				metrics.IncCallbackDrop("output")
				continue
			}
		}
		for addrStr, peer := range s.snapshotPeers() {
			if addrStr == f.Origin() {
				continue // loopback suppression
			}
			if _, err := conn.WriteToUDP(f.Raw(), peer); err != nil {
				metrics.IncError(metrics.ErrTransportWrite)
				logging.L().Warn("udpserver_write_error", "peer", addrStr, "error", err)
				continue
			}
			now := time.Now().UnixMicro()
			s.outAcc.Observe(len(f.Raw()), now-f.TimestampUs(), now)
		}
	}
}
