package driver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/metrics"
	"github.com/ampio/mavlink-router/internal/serial"
)

const (
	defaultBaud        = 115200
	serialOpenTimeout  = time.Second
	serialReconnectMin = 200 * time.Millisecond
	serialReconnectMax = 5 * time.Second
)

// openSerialPort is a seam so tests can substitute an in-memory port.
var openSerialPort = serial.Open

// Serial is the serial://<device>?baudrate=<n> driver. It reopens the
// device with an exponential back-off whenever the transport is lost.
type Serial struct {
	Device                 string
	Baud                   int
	DiscardInvalidChecksum bool
	OnInput, OnOutput      *callbacks.Set

	inAcc, outAcc hub.Accumulator
}

// NewSerialFromURL builds a Serial driver from a serial:// URL,
// accepting both the current "baudrate" query key and the legacy
// "arg2" alias, defaulting to 115200 when absent.
func NewSerialFromURL(u *url.URL) (*Serial, error) {
	baud := defaultBaud
	q := u.Query()
	raw := q.Get("baudrate")
	if raw == "" {
		raw = q.Get("arg2")
	}
	if raw != "" {
		b, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("serial: invalid baudrate %q: %w", raw, err)
		}
		baud = b
	}
	device := u.Path
	if device == "" {
		device = u.Opaque
	}
	return &Serial{Device: device, Baud: baud, DiscardInvalidChecksum: true}, nil
}

func (s *Serial) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "serial",
		ValidSchemes: []string{"serial"},
		CLIExamples:  []string{"serial:///dev/ttyACM0?baudrate=115200"},
	}
}

func (s *Serial) Stats() hub.AccumulatedDriverStats {
	in := s.inAcc.Snapshot()
	out := s.outAcc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in, Output: &out}
}

func (s *Serial) ResetStats() {
	s.inAcc.Reset()
	s.outAcc.Reset()
}

// Run opens the device, reconnecting with back-off on failure, until
// ctx is cancelled.
func (s *Serial) Run(ctx context.Context, sender *hub.Sender) error {
	backoff := serialReconnectMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		port, err := openSerialPort(s.Device, s.Baud, serialOpenTimeout)
		if err != nil {
			metrics.IncError(metrics.ErrTransportOpen)
			logging.L().Warn("serial_open_failed", "device", s.Device, "error", err, "backoff", backoff)
			metrics.IncReconnectAttempt("serial")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > serialReconnectMax {
				backoff = serialReconnectMax
			}
			continue
		}

		logging.L().Info("serial_open", "device", s.Device, "baud", s.Baud)
		backoff = serialReconnectMin
		err = runStreamDuplex(ctx, endpoint{reader: port, writer: port, closer: port}, sender, s.Device, s.DiscardInvalidChecksum, s.OnInput, s.OnOutput, &s.inAcc, &s.outAcc)
		_ = port.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.L().Warn("serial_disconnected", "device", s.Device, "error", err)
	}
}
