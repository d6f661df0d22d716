package driver

import (
	"context"
	"testing"
	"time"

	"github.com/ampio/mavlink-router/internal/callbacks"
	"github.com/ampio/mavlink-router/internal/hub"
	"github.com/ampio/mavlink-router/internal/mavlink"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// A sink that sleeps per frame behind a capacity-16 bus must fall
// behind and be told so, while the source's publish path never blocks
// on it.
func TestLagTolerance_SlowSinkLagsWithoutBlockingSource(t *testing.T) {
	laggedBefore := metrics.Snap().Lagged

	h := hub.New(16)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &FakeSource{Period: time.Microsecond}

	slow := &callbacks.Set{}
	slow.Add(func(ctx context.Context, f *mavlink.Frame) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	sink := &FakeSink{OnObserve: slow}

	srcID := h.AddDriver(ctx, hub.KindFakeSource, src)
	sinkID := h.AddDriver(ctx, hub.KindFakeSink, sink)
	defer h.RemoveDriver(srcID)
	defer h.RemoveDriver(sinkID)

	time.Sleep(time.Second)

	srcMsgs := src.Stats().Input.Messages
	if srcMsgs < 800 {
		t.Fatalf("expected the source to keep producing despite the slow sink, got %d frames", srcMsgs)
	}
	if lagged := metrics.Snap().Lagged - laggedBefore; lagged == 0 {
		t.Fatalf("expected the slow sink to report at least one lag event")
	}
	if sinkMsgs := sink.Stats().Input.Messages; sinkMsgs >= srcMsgs {
		t.Fatalf("expected the slow sink to observe fewer frames than the source produced: src=%d sink=%d", srcMsgs, sinkMsgs)
	}
}
