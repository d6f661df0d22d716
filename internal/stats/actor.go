package stats

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ampio/mavlink-router/internal/hub"
)

// DefaultPeriod is the interval between differential computations when
// an Actor is constructed without an explicit period.
const DefaultPeriod = time.Second

// Actor is the stats differentiator: a command channel plus three
// independent timer loops (drivers, hub aggregate, hub messages), each
// periodically diffing the hub's monotonic accumulators into Derived
// snapshots. All actor state is reached only from within Run's
// goroutines or via the Command channel.
type Actor struct {
	hub   *hub.Hub
	cmdCh chan Command

	periodMu sync.Mutex
	period   time.Duration

	startTimeUs int64

	// sampleMu guards the last-observed accumulator snapshots used as
	// the differential baseline. Locked before publishMu, in both the
	// timer loops and Reset.
	sampleMu    sync.Mutex
	lastDrivers map[uuid.UUID]hub.AccumulatedDriverStats
	lastHub     *hub.AccumulatedDriverStats
	lastMsgs    map[uint8]map[uint8]map[uint32]hub.AccumulatorSnapshot

	// publishMu guards the most recently derived snapshots that
	// Get* commands read.
	publishMu        sync.RWMutex
	publishedDrivers map[uuid.UUID]DriverStats
	publishedHub     DriverStats
	publishedMsgs    map[uint8]map[uint8]map[uint32]Derived
}

// NewActor constructs an Actor sampling h at period. period <= 0 uses
// DefaultPeriod.
func NewActor(h *hub.Hub, period time.Duration) *Actor {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Actor{
		hub:              h,
		cmdCh:            make(chan Command),
		period:           period,
		startTimeUs:      time.Now().UnixMicro(),
		lastDrivers:      make(map[uuid.UUID]hub.AccumulatedDriverStats),
		lastMsgs:         make(map[uint8]map[uint8]map[uint32]hub.AccumulatorSnapshot),
		publishedDrivers: make(map[uuid.UUID]DriverStats),
		publishedMsgs:    make(map[uint8]map[uint8]map[uint32]Derived),
	}
}

func (a *Actor) getPeriod() time.Duration {
	a.periodMu.Lock()
	defer a.periodMu.Unlock()
	return a.period
}

func (a *Actor) setPeriod(d time.Duration) {
	a.periodMu.Lock()
	a.period = d
	a.periodMu.Unlock()
}

// Run drives the command loop and the three timer loops until ctx is
// cancelled. It blocks; callers spawn it as a goroutine.
func (a *Actor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); a.commandLoop(ctx) }()
	go func() { defer wg.Done(); a.timerLoop(ctx, a.sampleDrivers) }()
	go func() { defer wg.Done(); a.timerLoop(ctx, a.sampleHub) }()
	go func() { defer wg.Done(); a.timerLoop(ctx, a.sampleHubMessages) }()
	wg.Wait()
}

func (a *Actor) timerLoop(ctx context.Context, sample func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.getPeriod()):
			sample()
		}
	}
}

func (a *Actor) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmdCh:
			a.handle(cmd)
		}
	}
}

func (a *Actor) handle(cmd Command) {
	switch c := cmd.(type) {
	case SetPeriod:
		a.setPeriod(c.Duration)
		replySend(c.Reply, nil)
	case Reset:
		a.doReset()
		replySend(c.Reply, nil)
	case GetDriversStats:
		replySend(c.Reply, a.snapshotDrivers())
	case GetHubStats:
		replySend(c.Reply, a.snapshotHub())
	case GetHubMessagesStats:
		replySend(c.Reply, a.snapshotHubMessages())
	}
}

// replySend delivers v on reply without blocking; a caller that
// already gave up waiting is simply not told.
func replySend[T any](reply chan<- T, v T) {
	select {
	case reply <- v:
	default:
	}
}

func (a *Actor) snapshotDrivers() map[uuid.UUID]DriverStats {
	a.publishMu.RLock()
	defer a.publishMu.RUnlock()
	out := make(map[uuid.UUID]DriverStats, len(a.publishedDrivers))
	for id, ds := range a.publishedDrivers {
		out[id] = ds
	}
	return out
}

func (a *Actor) snapshotHub() DriverStats {
	a.publishMu.RLock()
	defer a.publishMu.RUnlock()
	return a.publishedHub
}

func (a *Actor) snapshotHubMessages() map[uint8]map[uint8]map[uint32]Derived {
	a.publishMu.RLock()
	defer a.publishMu.RUnlock()
	out := make(map[uint8]map[uint8]map[uint32]Derived, len(a.publishedMsgs))
	for sysID, byComp := range a.publishedMsgs {
		outComp := make(map[uint8]map[uint32]Derived, len(byComp))
		for compID, byMsg := range byComp {
			outMsg := make(map[uint32]Derived, len(byMsg))
			for msgID, d := range byMsg {
				outMsg[msgID] = d
			}
			outComp[compID] = outMsg
		}
		out[sysID] = outComp
	}
	return out
}

func (a *Actor) sampleDrivers() {
	current := a.hub.DriversStats()

	a.sampleMu.Lock()
	a.publishMu.Lock()
	out := make(map[uuid.UUID]DriverStats, len(current))
	newLast := make(map[uuid.UUID]hub.AccumulatedDriverStats, len(current))
	for id, cur := range current {
		var lastPtr *hub.AccumulatedDriverStats
		if prev, ok := a.lastDrivers[id]; ok {
			lastPtr = &prev
		}
		out[id] = diffDriverStats(cur, lastPtr, a.startTimeUs)
		newLast[id] = cur
	}
	a.lastDrivers = newLast
	a.publishedDrivers = out
	a.publishMu.Unlock()
	a.sampleMu.Unlock()
}

func (a *Actor) sampleHub() {
	current := a.hub.HubStats()

	a.sampleMu.Lock()
	a.publishMu.Lock()
	out := diffDriverStats(current, a.lastHub, a.startTimeUs)
	cp := current
	a.lastHub = &cp
	a.publishedHub = out
	a.publishMu.Unlock()
	a.sampleMu.Unlock()
}

func (a *Actor) sampleHubMessages() {
	current := a.hub.HubMessagesStats()

	a.sampleMu.Lock()
	a.publishMu.Lock()
	out := make(map[uint8]map[uint8]map[uint32]Derived, len(current))
	newLast := make(map[uint8]map[uint8]map[uint32]hub.AccumulatorSnapshot, len(current))
	for sysID, byComp := range current {
		outComp := make(map[uint8]map[uint32]Derived, len(byComp))
		lastComp := make(map[uint8]map[uint32]hub.AccumulatorSnapshot, len(byComp))
		for compID, byMsg := range byComp {
			outMsg := make(map[uint32]Derived, len(byMsg))
			lastMsg := make(map[uint32]hub.AccumulatorSnapshot, len(byMsg))
			for msgID, snap := range byMsg {
				var lastPtr *hub.AccumulatorSnapshot
				if prevComp, ok := a.lastMsgs[sysID]; ok {
					if prevSnap, ok := prevComp[compID][msgID]; ok {
						lastPtr = &prevSnap
					}
				}
				outMsg[msgID] = diff(snap, lastPtr, a.startTimeUs)
				lastMsg[msgID] = snap
			}
			outComp[compID] = outMsg
			lastComp[compID] = lastMsg
		}
		out[sysID] = outComp
		newLast[sysID] = lastComp
	}
	a.lastMsgs = newLast
	a.publishedMsgs = out
	a.publishMu.Unlock()
	a.sampleMu.Unlock()
}

// doReset clears the actor's own differential baseline and published
// snapshots and restarts the start time, then zeroes every accumulator
// by fanning a reset out through the hub. It zeroes immediately rather than
// draining in-flight frames first: a frame already past ResetAllStats's
// fan-out but not yet reflected in a driver's accumulator can make the
// very next sample's totals slightly exceed what was observed strictly
// after the reset.
func (a *Actor) doReset() {
	a.sampleMu.Lock()
	a.publishMu.Lock()
	a.lastDrivers = make(map[uuid.UUID]hub.AccumulatedDriverStats)
	a.lastHub = nil
	a.lastMsgs = make(map[uint8]map[uint8]map[uint32]hub.AccumulatorSnapshot)
	a.publishedDrivers = make(map[uuid.UUID]DriverStats)
	a.publishedHub = DriverStats{}
	a.publishedMsgs = make(map[uint8]map[uint8]map[uint32]Derived)
	a.startTimeUs = time.Now().UnixMicro()
	a.publishMu.Unlock()
	a.sampleMu.Unlock()

	a.hub.ResetAllStats()
}

// send delivers cmd to the actor's command loop, blocking until
// accepted or ctx is cancelled.
func (a *Actor) send(ctx context.Context, cmd Command) error {
	select {
	case a.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPeriod requests a new sampling period.
func (a *Actor) SetPeriod(ctx context.Context, d time.Duration) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, SetPeriod{Duration: d, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset requests an immediate accumulator and baseline reset.
func (a *Actor) Reset(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, Reset{Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DriversStats requests the most recently computed per-driver snapshot.
func (a *Actor) DriversStats(ctx context.Context) (map[uuid.UUID]DriverStats, error) {
	reply := make(chan map[uuid.UUID]DriverStats, 1)
	if err := a.send(ctx, GetDriversStats{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HubStats requests the most recently computed hub-aggregate snapshot.
func (a *Actor) HubStats(ctx context.Context) (DriverStats, error) {
	reply := make(chan DriverStats, 1)
	if err := a.send(ctx, GetHubStats{Reply: reply}); err != nil {
		return DriverStats{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return DriverStats{}, ctx.Err()
	}
}

// HubMessagesStats requests the most recently computed per-message
// snapshot.
func (a *Actor) HubMessagesStats(ctx context.Context) (map[uint8]map[uint8]map[uint32]Derived, error) {
	reply := make(chan map[uint8]map[uint8]map[uint32]Derived, 1)
	if err := a.send(ctx, GetHubMessagesStats{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
