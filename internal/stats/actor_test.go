package stats

import (
	"context"
	"testing"
	"time"

	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/mavlink"
)

// pulseDriver publishes one frame every tick until stopped, recording
// input-side accumulator updates exactly like a real driver's receive
// loop would.
type pulseDriver struct {
	tick time.Duration
	acc  hub.Accumulator
}

func newPulseDriver(tick time.Duration) *pulseDriver { return &pulseDriver{tick: tick} }

func (d *pulseDriver) Info() hub.DriverInfo { return hub.DriverInfo{Name: "pulse"} }

func (d *pulseDriver) Stats() hub.AccumulatedDriverStats {
	in := d.acc.Snapshot()
	return hub.AccumulatedDriverStats{Input: &in}
}

func (d *pulseDriver) ResetStats() { d.acc.Reset() }

func (d *pulseDriver) Run(ctx context.Context, sender *hub.Sender) error {
	ticker := time.NewTicker(d.tick)
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
			now := time.Now().UnixMicro()
			f := mavlink.NewFrame("pulse", now, raw)
			sender.Publish(f)
			d.acc.Observe(len(f.Raw()), 0, now)
		}
	}
}

func TestActor_CommandRoundTrip(t *testing.T) {
	h := hub.New(64)
	defer h.Close()
	a := NewActor(h, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	if _, err := a.DriversStats(ctx); err != nil {
		t.Fatalf("GetDriversStats: %v", err)
	}
	if _, err := a.HubStats(ctx); err != nil {
		t.Fatalf("GetHubStats: %v", err)
	}
	if _, err := a.HubMessagesStats(ctx); err != nil {
		t.Fatalf("GetHubMessagesStats: %v", err)
	}
	if err := a.SetPeriod(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("SetPeriod: %v", err)
	}
	if err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

func TestActor_RateConvergesToSourceFrequency(t *testing.T) {
	h := hub.New(256)
	defer h.Close()
	a := NewActor(h, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	d := newPulseDriver(10 * time.Millisecond) // 100 Hz
	id := h.AddDriver(ctx, hub.KindFakeSource, d)
	defer h.RemoveDriver(id)

	time.Sleep(2 * time.Second)

	stats, err := a.DriversStats(ctx)
	if err != nil {
		t.Fatalf("DriversStats: %v", err)
	}
	ds, ok := stats[id]
	if !ok || ds.Input == nil {
		t.Fatalf("expected input stats for driver, got %+v", stats)
	}
	if ds.Input.MessagesPerSecond < 90 || ds.Input.MessagesPerSecond > 110 {
		t.Fatalf("expected messages_per_second in [90,110], got %v", ds.Input.MessagesPerSecond)
	}
}

func TestActor_ResetZeroesTotalsAtNextSample(t *testing.T) {
	h := hub.New(256)
	defer h.Close()
	a := NewActor(h, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	d := newPulseDriver(5 * time.Millisecond)
	id := h.AddDriver(ctx, hub.KindFakeSource, d)
	defer h.RemoveDriver(id)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		stats, _ := a.DriversStats(ctx)
		if ds, ok := stats[id]; ok && ds.Input != nil && ds.Input.TotalMessages > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	time.Sleep(50 * time.Millisecond) // let one post-reset sample land
	stats, err := a.DriversStats(ctx)
	if err != nil {
		t.Fatalf("DriversStats: %v", err)
	}
	if ds, ok := stats[id]; ok && ds.Input != nil && ds.Input.TotalMessages != 0 {
		t.Fatalf("expected total_messages==0 immediately after reset, got %d", ds.Input.TotalMessages)
	}
}

func TestActor_HubMessagesStatsAccumulatesDirectSends(t *testing.T) {
	h := hub.New(256)
	defer h.Close()
	a := NewActor(h, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	for i := 0; i < 5; i++ {
		h.SendFrame(mavlink.NewFrame("direct", time.Now().UnixMicro(), heartbeatRaw(uint8(i))))
	}
	time.Sleep(60 * time.Millisecond)

	msgStats, err := a.HubMessagesStats(ctx)
	if err != nil {
		t.Fatalf("HubMessagesStats: %v", err)
	}
	d, ok := msgStats[1][2][mavlink.HeartbeatMessageID]
	if !ok {
		t.Fatalf("expected heartbeat entry in hub messages stats, got %+v", msgStats)
	}
	if d.TotalMessages == 0 {
		t.Fatalf("expected nonzero total messages")
	}
}

func heartbeatRaw(seq uint8) []byte {
	payload := mavlink.HeartbeatPayload(0, 2, 8, 0x81, 4, 3)
	return mavlink.EncodeV2(seq, 1, 2, mavlink.HeartbeatMessageID, payload)
}
