package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeReceivesOnlyFutureValues(t *testing.T) {
	b := New[int](4)
	b.Publish(1)
	r := b.Subscribe()
	b.Publish(2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := r.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
}

func TestBus_LagReportsSkippedCountAndRecovers(t *testing.T) {
	b := New[int](2)
	r := b.Subscribe()
	b.Publish(1)
	b.Publish(2)
	b.Publish(3) // overwrites 1; r is now 1 behind the retained window's start

	ctx := context.Background()
	_, err := r.Recv(ctx)
	var lag *LagError
	if !errors.As(err, &lag) {
		t.Fatalf("expected *LagError, got %v", err)
	}
	if lag.N != 1 {
		t.Fatalf("expected lag of 1, got %d", lag.N)
	}

	v, err := r.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv after lag: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected to resume at 2, got %d", v)
	}
}

func TestBus_CloseDrainsThenReturnsErrClosed(t *testing.T) {
	b := New[int](4)
	r := b.Subscribe()
	b.Publish(1)
	b.Close()

	ctx := context.Background()
	v, err := r.Recv(ctx)
	if err != nil || v != 1 {
		t.Fatalf("expected to drain buffered value 1, got v=%d err=%v", v, err)
	}
	if _, err := r.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBus_RecvBlocksUntilPublishOrContextDone(t *testing.T) {
	b := New[int](4)
	r := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBus_MultipleReceiversEachSeeEveryValue(t *testing.T) {
	const n = 100
	b := New[int](n) // room for every value, so no receiver can lag
	var wg sync.WaitGroup
	results := make([][]int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		r := b.Subscribe()
		go func(idx int) {
			defer wg.Done()
			ctx := context.Background()
			for {
				v, err := r.Recv(ctx)
				if err != nil {
					return
				}
				results[idx] = append(results[idx], v)
				if v == n-1 {
					return
				}
			}
		}(i)
	}
	for i := 0; i < n; i++ {
		b.Publish(i)
	}
	wg.Wait()
	for i, got := range results {
		if len(got) != n {
			t.Fatalf("receiver %d: expected %d values, got %d", i, n, len(got))
		}
	}
}
