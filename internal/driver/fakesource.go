package driver

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/mavlink"
)

const defaultFakeSourcePeriod = 10 * time.Millisecond

// FakeSource is the fakesource:// driver (aliases fakeserver, fakesrc,
// fakes): it synthesizes a HEARTBEAT every Period, tokenising it through
// the same frame reader a real transport would use, so it exercises the
// full publish path. Useful for loopback tests.
type FakeSource struct {
	Period  time.Duration
	OnInput *callbacks.Set

	inAcc hub.Accumulator
}

// NewFakeSourceFromURL builds a FakeSource driver from a fakesource://
// URL; ?period_ms=<n> overrides the default 10ms synthesis period.
func NewFakeSourceFromURL(u *url.URL) (*FakeSource, error) {
	period := defaultFakeSourcePeriod
	if raw := u.Query().Get("period_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err == nil && ms > 0 {
			period = time.Duration(ms) * time.Millisecond
		}
	}
	return &FakeSource{Period: period}, nil
}

func (s *FakeSource) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "fakesource",
		ValidSchemes: []string{"fakesource", "fakeserver", "fakesrc", "fakes"},
		CLIExamples:  []string{"fakesource://?period_ms=10"},
	}
}

func (s *FakeSource) Stats() hub.AccumulatedDriverStats {
	in := s.inAcc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in}
}

func (s *FakeSource) ResetStats() { s.inAcc.Reset() }

// Run synthesizes heartbeats at Period until ctx is cancelled.
func (s *FakeSource) Run(ctx context.Context, sender *hub.Sender) error {
	reader := mavlink.NewFrameReader("fakesource", true)
	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()

	var seq uint8
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			payload := mavlink.HeartbeatPayload(0, 2, 8, 0x81, 4, 3)
			raw := mavlink.EncodeV2(seq, 1, 2, mavlink.HeartbeatMessageID, payload)
			seq++
			nowUs := time.Now().UnixMicro()

			buf := bufFromRaw(raw)
			_ = reader.ReadAll(buf, nowUs, func(f *mavlink.Frame) error {
				if s.OnInput != nil {
					if cerr := s.OnInput.CallAll(ctx, f); cerr != nil {
						return nil
					}
				}
				sender.Publish(f)
				s.inAcc.Observe(len(f.Raw()), 0, nowUs)
				return nil
			})
		}
	}
}
