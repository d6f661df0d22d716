package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/mavlink"
	"github.com/ampio/mavlink-router/internal/serial"
)

// fakePort is an in-memory serial.Port: Read blocks on a channel of
// inbound chunks, Write collects outbound bytes.
type fakePort struct {
	readCh chan []byte

	mu      sync.Mutex
	written bytes.Buffer

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{readCh: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.readCh:
		return copy(b, chunk), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written.Write(b)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func withFakeSerialPort(t *testing.T, open func(name string, baud int, timeout time.Duration) (serial.Port, error)) {
	t.Helper()
	orig := openSerialPort
	openSerialPort = open
	t.Cleanup(func() { openSerialPort = orig })
}

func TestSerial_DuplexThroughFakePort(t *testing.T) {
	port := newFakePort()
	withFakeSerialPort(t, func(name string, baud int, timeout time.Duration) (serial.Port, error) {
		return port, nil
	})

	h := hub.New(64)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Serial{Device: "/dev/fake0", Baud: 115200, DiscardInvalidChecksum: true}
	id := h.AddDriver(ctx, hub.KindSerial, s)
	defer h.RemoveDriver(id)

	// Inbound: bytes appearing on the port must be decoded and counted.
	port.readCh <- heartbeat(3)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().Input.Messages == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Stats().Input.Messages; got != 1 {
		t.Fatalf("expected one decoded inbound frame, got %d", got)
	}

	// Outbound: a frame from another origin must be written to the port.
	out := heartbeat(4)
	h.SendFrame(mavlink.NewFrame("elsewhere", time.Now().UnixMicro(), out))
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bytes.Equal(port.writtenBytes(), out) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !bytes.Equal(port.writtenBytes(), out) {
		t.Fatalf("expected outbound frame to be written to the port, got %d bytes", len(port.writtenBytes()))
	}

	// Loopback: a frame tagged with this port's own origin must not be
	// written back out.
	h.SendFrame(mavlink.NewFrame("/dev/fake0", time.Now().UnixMicro(), heartbeat(5)))
	time.Sleep(100 * time.Millisecond)
	if !bytes.Equal(port.writtenBytes(), out) {
		t.Fatalf("expected loopback frame to be suppressed")
	}
}

func TestSerial_ReopensAfterOpenFailure(t *testing.T) {
	var attempts atomic.Int32
	port := newFakePort()
	withFakeSerialPort(t, func(name string, baud int, timeout time.Duration) (serial.Port, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("device busy")
		}
		return port, nil
	})

	h := hub.New(64)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Serial{Device: "/dev/fake1", Baud: 115200, DiscardInvalidChecksum: true}
	id := h.AddDriver(ctx, hub.KindSerial, s)
	defer h.RemoveDriver(id)

	// First open fails; the driver must back off and succeed on retry.
	port.readCh <- heartbeat(0)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().Input.Messages == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.Stats().Input.Messages; got != 1 {
		t.Fatalf("expected a decoded frame after reconnect, got %d (open attempts %d)", got, attempts.Load())
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected at least two open attempts, got %d", attempts.Load())
	}
}
