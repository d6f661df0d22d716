package driver

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/ampio/mavlink-router/internal/broadcast"
	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// FakeSink is the fakesink:// driver (aliases fakeclient, fakec): it
// subscribes to the hub and runs observability callbacks over every
// frame it sees, without writing anywhere. Paired with FakeSource in
// loopback tests.
type FakeSink struct {
	OnObserve *callbacks.Set

	inAcc hub.Accumulator
}

func (s *FakeSink) Info() hub.DriverInfo {
	return hub.DriverInfo{
		Name:         "fakesink",
		ValidSchemes: []string{"fakesink", "fakeclient", "fakec"},
		CLIExamples:  []string{"fakesink://"},
	}
}

// NewFakeSinkFromURL builds a FakeSink driver. It takes no parameters.
func NewFakeSinkFromURL(u *url.URL) (*FakeSink, error) {
	return &FakeSink{}, nil
}

func (s *FakeSink) Stats() hub.AccumulatedDriverStats {
	in := s.inAcc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in}
}

func (s *FakeSink) ResetStats() { s.inAcc.Reset() }

// Run subscribes to the hub and observes every frame until ctx is
// cancelled or the bus closes.
func (s *FakeSink) Run(ctx context.Context, sender *hub.Sender) error {
	recv := sender.Subscribe()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := recv.Recv(ctx)
		if err != nil {
			var lag *broadcast.LagError
			if errors.As(err, &lag) {
				metrics.IncHubLagged()
				logging.L().Warn("subscriber_lagged", "origin", "fakesink", "skipped", lag.N)
				continue
			}
			return err
		}
		if s.OnObserve != nil {
			_ = s.OnObserve.CallAll(ctx, f)
		}
		s.inAcc.Observe(len(f.Raw()), 0, time.Now().UnixMicro())
	}
}
