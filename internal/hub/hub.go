// Package hub implements the broadcast-bus message router: drivers
// publish inbound frames to it and subscribe to receive outbound ones,
// the hub itself taps every published frame to maintain the per
// system/component/message accumulator the stats actor reads.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ampio/mavlink-router/internal/broadcast"
	"github.com/ampio/mavlink-router/internal/logging"
	"github.com/ampio/mavlink-router/internal/mavlink"
	"github.com/ampio/mavlink-router/internal/metrics"
)

// Kind tags a driver's transport family for DriversInfo snapshots.
type Kind string

const (
	KindSerial     Kind = "serial"
	KindTcpServer  Kind = "tcpserver"
	KindTcpClient  Kind = "tcpclient"
	KindUdpServer  Kind = "udpserver"
	KindUdpClient  Kind = "udpclient"
	KindTlogWriter Kind = "tlogwriter"
	KindTlogReader Kind = "tlogreader"
	KindFakeSource Kind = "fakesource"
	KindFakeSink   Kind = "fakesink"
	KindRest       Kind = "rest"
)

// DriverInfo is the static descriptor the URL dispatcher and
// introspection endpoints use to describe a driver kind.
type DriverInfo struct {
	Name         string
	ValidSchemes []string
	CLIExamples  []string
}

// Driver is the uniform contract every concrete transport implements.
// Defined here, not in package driver, so that concrete drivers can
// depend on hub without hub ever depending on them.
type Driver interface {
	// Run owns the transport for as long as ctx is alive, publishing
	// inbound frames through sender and writing outbound frames it
	// receives from sender's subscription. It returns only on fatal
	// transport loss or ctx cancellation.
	Run(ctx context.Context, sender *Sender) error
	Info() DriverInfo
	Stats() AccumulatedDriverStats
	ResetStats()
}

// Sender is the cloneable handle a driver uses to talk to the hub
// without holding a reference to the full Hub.
type Sender struct {
	bus *broadcast.Bus[*mavlink.Frame]
}

// Publish pushes an inbound frame onto the hub's broadcast bus.
func (s *Sender) Publish(f *mavlink.Frame) {
	s.bus.Publish(f)
	metrics.IncHubPublished()
}

// Subscribe returns a fresh broadcast receiver positioned at the bus's
// current head.
func (s *Sender) Subscribe() *broadcast.Receiver[*mavlink.Frame] {
	return s.bus.Subscribe()
}

type driverHandle struct {
	id     uuid.UUID
	kind   Kind
	driver Driver
	cancel context.CancelFunc
	done   chan struct{}
}

// Hub is the central fan-out bus: drivers register with it, it spawns
// and tracks their run loops, and it taps its own bus to maintain the
// per-message accumulator map the stats actor exposes as
// HubMessagesStats.
type Hub struct {
	bus *broadcast.Bus[*mavlink.Frame]

	mu      sync.RWMutex
	drivers map[uuid.UUID]*driverHandle

	msgMu   sync.Mutex
	msgAccs map[uint8]map[uint8]map[uint32]*Accumulator

	tapCancel context.CancelFunc
	tapDone   chan struct{}
}

// New creates a Hub whose broadcast bus retains up to bufferCapacity
// frames for slow subscribers before reporting Lagged.
func New(bufferCapacity int) *Hub {
	h := &Hub{
		bus:     broadcast.New[*mavlink.Frame](bufferCapacity),
		drivers: make(map[uuid.UUID]*driverHandle),
		msgAccs: make(map[uint8]map[uint8]map[uint32]*Accumulator),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.tapCancel = cancel
	h.tapDone = make(chan struct{})
	go h.runTap(ctx, h.bus.Subscribe())
	return h
}

func (h *Hub) runTap(ctx context.Context, r *broadcast.Receiver[*mavlink.Frame]) {
	defer close(h.tapDone)
	for {
		if ctx.Err() != nil {
			return
		}
		f, err := r.Recv(ctx)
		if err != nil {
			var lag *broadcast.LagError
			if errors.As(err, &lag) {
				continue
			}
			return
		}
		h.observeMessage(f)
	}
}

func (h *Hub) observeMessage(f *mavlink.Frame) {
	sysID, compID, msgID := f.SystemID(), f.ComponentID(), f.MessageID()
	h.msgMu.Lock()
	byComp, ok := h.msgAccs[sysID]
	if !ok {
		byComp = make(map[uint8]map[uint32]*Accumulator)
		h.msgAccs[sysID] = byComp
	}
	byMsg, ok := byComp[compID]
	if !ok {
		byMsg = make(map[uint32]*Accumulator)
		byComp[compID] = byMsg
	}
	acc, ok := byMsg[msgID]
	if !ok {
		acc = &Accumulator{}
		byMsg[msgID] = acc
	}
	h.msgMu.Unlock()
	acc.Observe(len(f.Raw()), 0, f.TimestampUs())
}

// AddDriver mints a UUID for d, spawns its run loop, and registers it.
func (h *Hub) AddDriver(ctx context.Context, kind Kind, d Driver) uuid.UUID {
	id := uuid.New()
	runCtx, cancel := context.WithCancel(ctx)
	handle := &driverHandle{id: id, kind: kind, driver: d, cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	h.drivers[id] = handle
	h.mu.Unlock()

	sender := &Sender{bus: h.bus}
	go func() {
		defer close(handle.done)
		if err := d.Run(runCtx, sender); err != nil {
			logging.L().Warn("driver_exited", "driver_id", id, "kind", kind, "err", err)
		} else {
			logging.L().Info("driver_exited", "driver_id", id, "kind", kind)
		}
	}()

	metrics.SetDriverCount(h.Count())
	return id
}

// RemoveDriver cancels and deregisters the driver identified by id,
// blocking until its run loop has actually returned, and reports
// whether it existed.
func (h *Hub) RemoveDriver(id uuid.UUID) bool {
	h.mu.Lock()
	handle, ok := h.drivers[id]
	if ok {
		delete(h.drivers, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	<-handle.done
	metrics.SetDriverCount(h.Count())
	return true
}

// Count returns the number of currently registered drivers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.drivers)
}

// DriverRecord is one entry of a DriversInfo snapshot.
type DriverRecord struct {
	ID   uuid.UUID
	Kind Kind
	Info DriverInfo
}

// DriversInfo snapshots every registered driver's identity and static
// descriptor.
func (h *Hub) DriversInfo() []DriverRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]DriverRecord, 0, len(h.drivers))
	for id, handle := range h.drivers {
		out = append(out, DriverRecord{ID: id, Kind: handle.kind, Info: handle.driver.Info()})
	}
	return out
}

// DriversStats snapshots every registered driver's accumulated stats.
func (h *Hub) DriversStats() map[uuid.UUID]AccumulatedDriverStats {
	h.mu.RLock()
	handles := make([]*driverHandle, 0, len(h.drivers))
	for _, handle := range h.drivers {
		handles = append(handles, handle)
	}
	h.mu.RUnlock()

	out := make(map[uuid.UUID]AccumulatedDriverStats, len(handles))
	for _, handle := range handles {
		out[handle.id] = handle.driver.Stats()
	}
	return out
}

// HubStats sums every registered driver's input and output
// accumulators into a single pair.
func (h *Hub) HubStats() AccumulatedDriverStats {
	var in, out *AccumulatorSnapshot
	for _, stats := range h.DriversStats() {
		in = sumSnapshots(in, stats.Input)
		out = sumSnapshots(out, stats.Output)
	}
	return AccumulatedDriverStats{Input: in, Output: out}
}

// HubMessagesStats snapshots the nested system_id/component_id/message_id
// accumulator map maintained by the hub's own bus subscription.
func (h *Hub) HubMessagesStats() map[uint8]map[uint8]map[uint32]AccumulatorSnapshot {
	h.msgMu.Lock()
	defer h.msgMu.Unlock()
	out := make(map[uint8]map[uint8]map[uint32]AccumulatorSnapshot, len(h.msgAccs))
	for sysID, byComp := range h.msgAccs {
		outComp := make(map[uint8]map[uint32]AccumulatorSnapshot, len(byComp))
		for compID, byMsg := range byComp {
			outMsg := make(map[uint32]AccumulatorSnapshot, len(byMsg))
			for msgID, acc := range byMsg {
				outMsg[msgID] = acc.Snapshot()
			}
			outComp[compID] = outMsg
		}
		out[sysID] = outComp
	}
	return out
}

// ResetAllStats fans a reset out to every registered driver, then
// clears the hub's own per-message accumulator map.
func (h *Hub) ResetAllStats() {
	h.mu.RLock()
	handles := make([]*driverHandle, 0, len(h.drivers))
	for _, handle := range h.drivers {
		handles = append(handles, handle)
	}
	h.mu.RUnlock()
	for _, handle := range handles {
		handle.driver.ResetStats()
	}

	h.msgMu.Lock()
	h.msgAccs = make(map[uint8]map[uint8]map[uint32]*Accumulator)
	h.msgMu.Unlock()
}

// SendFrame publishes a frame directly onto the bus, bypassing any
// driver — used for locally generated traffic such as synthetic
// heartbeats emitted by the process itself.
func (h *Hub) SendFrame(f *mavlink.Frame) {
	h.bus.Publish(f)
	metrics.IncHubPublished()
}

// Close stops the hub's internal tap goroutine. It does not remove or
// cancel registered drivers.
func (h *Hub) Close() {
	h.tapCancel()
	<-h.tapDone
}
