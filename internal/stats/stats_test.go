package stats

import (
	"math"
	"testing"

	"github.com/ampio/mavlink-router/internal/hub"
)

func TestSafeDiv(t *testing.T) {
	if got := safeDiv(10, 2); got != 5 {
		t.Fatalf("safeDiv(10,2) = %v, want 5", got)
	}
	if got := safeDiv(10, 0); got != 0 {
		t.Fatalf("safeDiv(10,0) = %v, want 0 (b<=0)", got)
	}
	if got := safeDiv(10, -1); got != 0 {
		t.Fatalf("safeDiv(10,-1) = %v, want 0 (b<=0)", got)
	}
}

func TestDiff_FirstSampleHasZeroRatesButNonzeroAverages(t *testing.T) {
	start := int64(0)
	current := hub.AccumulatorSnapshot{Messages: 100, Bytes: 1000, DelaySumUs: 5000, LastUpdateUs: 1_000_000}

	d := diff(current, nil, start)

	if d.MessagesPerSecond != 0 || d.BytesPerSecond != 0 {
		t.Fatalf("expected zero instantaneous rates with no prior sample, got %+v", d)
	}
	if d.TotalMessages != 100 || d.TotalBytes != 1000 {
		t.Fatalf("expected totals to pass through, got %+v", d)
	}
	// total_time_s = 1s, so average rates should be 100/s and 1000/s.
	if math.Abs(d.AverageMessagesPerSecond-100) > 1e-9 {
		t.Fatalf("expected average_messages_per_second=100, got %v", d.AverageMessagesPerSecond)
	}
	if math.Abs(d.AverageBytesPerSecond-1000) > 1e-9 {
		t.Fatalf("expected average_bytes_per_second=1000, got %v", d.AverageBytesPerSecond)
	}
	if math.Abs(d.Delay-50) > 1e-9 {
		t.Fatalf("expected delay=50us, got %v", d.Delay)
	}
	// no prior sample means prev_delay=0, so jitter equals delay.
	if math.Abs(d.Jitter-50) > 1e-9 {
		t.Fatalf("expected jitter=50 on first sample, got %v", d.Jitter)
	}
}

func TestDiff_SecondSampleComputesWindowedRate(t *testing.T) {
	start := int64(0)
	last := hub.AccumulatorSnapshot{Messages: 100, Bytes: 1000, DelaySumUs: 1000, LastUpdateUs: 1_000_000}
	current := hub.AccumulatorSnapshot{Messages: 200, Bytes: 3000, DelaySumUs: 4000, LastUpdateUs: 2_000_000}

	d := diff(current, &last, start)

	// time_diff_s = 1s: (200-100)msgs/1s = 100/s, (3000-1000)bytes/1s = 2000/s.
	if math.Abs(d.MessagesPerSecond-100) > 1e-9 {
		t.Fatalf("expected messages_per_second=100, got %v", d.MessagesPerSecond)
	}
	if math.Abs(d.BytesPerSecond-2000) > 1e-9 {
		t.Fatalf("expected bytes_per_second=2000, got %v", d.BytesPerSecond)
	}
	// delay_now = 4000/200 = 20; delay_prev = 1000/100 = 10; jitter = 10.
	if math.Abs(d.Delay-20) > 1e-9 {
		t.Fatalf("expected delay=20, got %v", d.Delay)
	}
	if math.Abs(d.Jitter-10) > 1e-9 {
		t.Fatalf("expected jitter=10, got %v", d.Jitter)
	}
}

func TestDiff_SteadySourceJitterApproachesZero(t *testing.T) {
	start := int64(0)
	// A perfectly steady source: every window adds 100 messages, each
	// carrying a constant 10us delay.
	last := hub.AccumulatorSnapshot{Messages: 100, DelaySumUs: 1000, LastUpdateUs: 1_000_000}
	current := hub.AccumulatorSnapshot{Messages: 200, DelaySumUs: 2000, LastUpdateUs: 2_000_000}

	d := diff(current, &last, start)
	if d.Jitter != 0 {
		t.Fatalf("expected zero jitter for a steady source, got %v", d.Jitter)
	}

	// A source whose per-message delay jumps from 10us to 40us between
	// windows must report nonzero jitter.
	last = hub.AccumulatorSnapshot{Messages: 100, DelaySumUs: 1000, LastUpdateUs: 1_000_000}
	current = hub.AccumulatorSnapshot{Messages: 200, DelaySumUs: 5000, LastUpdateUs: 2_000_000}
	if d := diff(current, &last, start); d.Jitter <= 0 {
		t.Fatalf("expected positive jitter for a rate-shifting source, got %v", d.Jitter)
	}
}

func TestDiff_ZeroMessagesNeverDivides(t *testing.T) {
	current := hub.AccumulatorSnapshot{}
	d := diff(current, nil, 0)
	if d.Delay != 0 || d.MessagesPerSecond != 0 || d.AverageMessagesPerSecond != 0 {
		t.Fatalf("expected all-zero derived stats for an empty accumulator, got %+v", d)
	}
}

func TestDiffDriverStats_NilHalvesPassThrough(t *testing.T) {
	current := hub.AccumulatedDriverStats{Input: &hub.AccumulatorSnapshot{Messages: 5, LastUpdateUs: 1}}
	out := diffDriverStats(current, nil, 0)
	if out.Input == nil {
		t.Fatalf("expected Input half to be populated")
	}
	if out.Output != nil {
		t.Fatalf("expected Output half to stay nil when accumulator has no output")
	}
}
