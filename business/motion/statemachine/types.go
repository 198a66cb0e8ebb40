package statemachine

import (
	"time"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

// ActionKind tags the variants of side effect the state machine can ask its
// caller to perform, replacing the dynamic dispatch of the source system per
// spec section 9.
type ActionKind string

const (
	ActionStartTrip    ActionKind = "startTrip"
	ActionEndTrip      ActionKind = "endTrip"
	ActionDiscardTrip  ActionKind = "discardTrip"
	ActionStartStop    ActionKind = "startStop"
	ActionEndStop      ActionKind = "endStop"
	ActionOvernightGap ActionKind = "overnightGap"
)

// CompletedTrip carries a trip's final fields at the moment it closes,
// whether it is ultimately persisted (Persist=true, emit endTrip) or
// discarded (Persist=false, emit discardTrip with no bus event).
type CompletedTrip struct {
	Trip         motiondata.TripContext
	EndTime      time.Time
	EndLat       float64
	EndLon       float64
	Persist      bool
	CurrentState motiondata.State // the device's state immediately after the trip closed
	ClosedBy     string           // free-form reason, e.g. "transition", "gap", "max_idle", "orphan_cleanup"
}

// DurationSeconds returns the trip's wall-clock duration.
func (c CompletedTrip) DurationSeconds() int64 {
	d := c.EndTime.Sub(c.Trip.StartTime)
	if d < 0 {
		d = 0
	}
	return int64(d.Seconds())
}

// FinalDistance returns trip distance per spec section 4.2's close-time rule:
// the state machine's own accumulated, noise-filtered distance. Callers that
// have access to the odometer (business/motion/odometer) prefer
// totalOdometer-at-close minus tripOdometerStart per spec section 4.5 step 5,
// falling back to this value when that snapshot is missing.
func (c CompletedTrip) FinalDistance() float64 {
	return c.Trip.Distance
}

// CompletedStop carries a stop's final fields at the moment it closes.
type CompletedStop struct {
	Stop    motiondata.StopContext
	EndTime time.Time
}

// DurationSeconds returns the stop's wall-clock duration.
func (c CompletedStop) DurationSeconds() int64 {
	d := c.EndTime.Sub(c.Stop.StartTime)
	if d < 0 {
		d = 0
	}
	return int64(d.Seconds())
}

// Action is one side effect the state machine produced for this sample, in
// emission order.
type Action struct {
	Kind ActionKind

	StartedTrip *motiondata.TripContext // set on ActionStartTrip
	StartedStop *motiondata.StopContext // set on ActionStartStop

	CompletedTrip *CompletedTrip // set on ActionEndTrip / ActionDiscardTrip
	CompletedStop *CompletedStop // set on ActionEndStop

	GapStart time.Time // set on ActionOvernightGap
	GapEnd   time.Time // set on ActionOvernightGap
}

// Result is what Advance returns: the updated hot state, the ordered actions
// the caller must turn into bus events and persistence writes, and — when a
// trip closed and another opened in the same call — the closed trip's
// fields captured before the state was reinitialized, so the caller can
// still emit its completion event with correct data even though the hot
// state now reflects the new trip.
type Result struct {
	State        *motiondata.DeviceState
	Actions      []Action
	PreviousTrip *CompletedTrip
}
