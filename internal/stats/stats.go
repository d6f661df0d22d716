// Package stats implements the periodic differentiator that turns the
// monotonic accumulators maintained by the hub and its drivers into
// derived rate/jitter/average metrics, exposed as a request/response
// actor (actor.go) over the commands in protocol.go.
package stats

import "github.com/ampio/mavlink-router/internal/hub"

// Derived is one direction's worth of computed metrics.
type Derived struct {
	TotalBytes               uint64
	TotalMessages            uint64
	BytesPerSecond           float64
	MessagesPerSecond        float64
	AverageBytesPerSecond    float64
	AverageMessagesPerSecond float64
	Delay                    float64
	Jitter                   float64
	LastMessageTimeUs        int64
}

// DriverStats pairs a driver's input and output derived halves; either
// is nil when that direction does not apply, mirroring
// hub.AccumulatedDriverStats.
type DriverStats struct {
	Input  *Derived
	Output *Derived
}

// safeDiv returns zero whenever the denominator is not strictly
// positive, so a missing or degenerate sampling window never produces
// Inf/NaN in exposed stats.
func safeDiv(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

// diff computes one accumulator snapshot's derived metrics, given the
// previous sample (nil on the first sample) and the actor's global
// start time. It does not mutate either snapshot.
func diff(current hub.AccumulatorSnapshot, last *hub.AccumulatorSnapshot, startTimeUs int64) Derived {
	var timeDiffS float64 = -1 // negative sentinel: safeDiv treats any b<=0 as 0, so -1 behaves exactly like "no last sample"
	var prevMessages, prevBytes uint64
	var prevDelaySum int64
	if last != nil {
		timeDiffS = float64(current.LastUpdateUs-last.LastUpdateUs) / 1e6
		prevMessages = last.Messages
		prevBytes = last.Bytes
		prevDelaySum = last.DelaySumUs
	}

	totalTimeS := float64(current.LastUpdateUs-startTimeUs) / 1e6

	messagesDelta := float64(current.Messages - prevMessages)
	bytesDelta := float64(current.Bytes - prevBytes)

	delay := safeDiv(float64(current.DelaySumUs), float64(current.Messages))
	prevDelay := safeDiv(float64(prevDelaySum), float64(prevMessages))

	return Derived{
		TotalBytes:               current.Bytes,
		TotalMessages:            current.Messages,
		BytesPerSecond:           safeDiv(bytesDelta, timeDiffS),
		MessagesPerSecond:        safeDiv(messagesDelta, timeDiffS),
		AverageBytesPerSecond:    safeDiv(float64(current.Bytes), totalTimeS),
		AverageMessagesPerSecond: safeDiv(float64(current.Messages), totalTimeS),
		Delay:                    delay,
		Jitter:                   absFloat(delay - prevDelay),
		LastMessageTimeUs:        current.LastUpdateUs,
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// diffDriverStats diffs both halves of an AccumulatedDriverStats against
// the previous sample, which may be nil (first sample) or have either
// half nil (direction newly appeared).
func diffDriverStats(current hub.AccumulatedDriverStats, last *hub.AccumulatedDriverStats, startTimeUs int64) DriverStats {
	var out DriverStats
	if current.Input != nil {
		var prevIn *hub.AccumulatorSnapshot
		if last != nil {
			prevIn = last.Input
		}
		d := diff(*current.Input, prevIn, startTimeUs)
		out.Input = &d
	}
	if current.Output != nil {
		var prevOut *hub.AccumulatorSnapshot
		if last != nil {
			prevOut = last.Output
		}
		d := diff(*current.Output, prevOut, startTimeUs)
		out.Output = &d
	}
	return out
}
