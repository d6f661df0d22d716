package hub

import "sync"

// AccumulatorSnapshot is a point-in-time, immutable copy of an
// Accumulator's counters, safe to hand to the stats actor across a
// channel without further locking.
type AccumulatorSnapshot struct {
	Messages      uint64
	Bytes         uint64
	DelaySumUs    int64
	LastUpdateUs  int64
}

// Accumulator holds one direction's monotonic counters: messages,
// bytes, summed per-message delay, and the timestamp of the most
// recent update. It is reset only by an explicit Reset call.
type Accumulator struct {
	mu           sync.Mutex
	messages     uint64
	bytes        uint64
	delaySumUs   int64
	lastUpdateUs int64
}

// Observe records one frame of the given byte length, ingest-to-stats
// delay, and observation timestamp (all in microseconds).
func (a *Accumulator) Observe(byteLen int, delayUs, nowUs int64) {
	a.mu.Lock()
	a.messages++
	a.bytes += uint64(byteLen)
	a.delaySumUs += delayUs
	a.lastUpdateUs = nowUs
	a.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (a *Accumulator) Snapshot() AccumulatorSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AccumulatorSnapshot{
		Messages:     a.messages,
		Bytes:        a.bytes,
		DelaySumUs:   a.delaySumUs,
		LastUpdateUs: a.lastUpdateUs,
	}
}

// Reset zeroes every counter.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.messages = 0
	a.bytes = 0
	a.delaySumUs = 0
	a.lastUpdateUs = 0
	a.mu.Unlock()
}

// AccumulatedDriverStats pairs a driver's input and output accumulator
// snapshots; either half is nil when that direction does not apply
// (e.g. a tlog writer has no input half).
type AccumulatedDriverStats struct {
	Input  *AccumulatorSnapshot
	Output *AccumulatorSnapshot
}

// sumSnapshots adds b's counters onto a (nil-safe on either side).
func sumSnapshots(a, b *AccumulatorSnapshot) *AccumulatorSnapshot {
	if b == nil {
		return a
	}
	if a == nil {
		cp := *b
		return &cp
	}
	a.Messages += b.Messages
	a.Bytes += b.Bytes
	a.DelaySumUs += b.DelaySumUs
	if b.LastUpdateUs > a.LastUpdateUs {
		a.LastUpdateUs = b.LastUpdateUs
	}
	return a
}
