package stats

import (
	"time"

	"github.com/google/uuid"
)

// Command is the tagged message variant the actor's command channel
// accepts, each paired with a one-shot reply channel. A control
// surface (HTTP/REST) would call into the actor through these.
type Command interface {
	isCommand()
}

// SetPeriod changes the interval the actor's three timer loops sleep
// between differential computations.
type SetPeriod struct {
	Duration time.Duration
	Reply    chan<- error
}

// Reset zeroes every accumulator (via the hub fan-out) and clears the
// actor's own last-sample state and published derived snapshots.
type Reset struct {
	Reply chan<- error
}

// GetDriversStats requests the most recently computed per-driver
// derived snapshot.
type GetDriversStats struct {
	Reply chan<- map[uuid.UUID]DriverStats
}

// GetHubStats requests the most recently computed hub-aggregate derived
// snapshot (sum of every driver's input/output).
type GetHubStats struct {
	Reply chan<- DriverStats
}

// GetHubMessagesStats requests the most recently computed per
// system_id/component_id/message_id derived snapshot.
type GetHubMessagesStats struct {
	Reply chan<- map[uint8]map[uint8]map[uint32]Derived
}

func (SetPeriod) isCommand()           {}
func (Reset) isCommand()               {}
func (GetDriversStats) isCommand()     {}
func (GetHubStats) isCommand()         {}
func (GetHubMessagesStats) isCommand() {}
