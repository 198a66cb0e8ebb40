package motion

import (
	"time"

	"github.com/fleetsignal/motiontrack/business/motion/geo"
)

// TripContext carries everything the state machine needs to keep updating an
// active trip, including the noise-detection context described in spec
// section 4.1.
type TripContext struct {
	TripID      string
	StartTime   time.Time
	StartLat    float64
	StartLon    float64
	Distance    float64 // accumulated adjusted distance, meters
	MaxSpeed    float64 // km/h
	StopsCount  int
	Confirmed   bool
	Metadata    Metadata

	// Noise-detection context, updated on every sample (spec section 4.1).
	MaxDistanceFromOrigin float64
	BoundingBox           geo.BoundingBox
	SpeedSum              float64
	PositionCount         int

	// Quality counters (spec section 4.2 "Distance accumulation").
	SegmentsTotal      int
	SegmentsAdjusted   int
	OriginalDistance   float64
	AdjustedDistance   float64
	GPSNoiseSegments   int
}

// StopContext carries the state needed while a stop is active.
type StopContext struct {
	StopID    string
	TripID    string // empty if the stop has no owning trip
	StartTime time.Time
	StartLat  float64
	StartLon  float64
	Reason    StopReason
	Metadata  Metadata
}

// DeviceState is the hot, per-device motion state described in spec section 3.
// Exactly one instance exists per device in the hot store; only the device's
// dispatcher worker (business/dispatch) ever mutates it.
type DeviceState struct {
	DeviceID string

	State      State
	StateSince time.Time

	LastSample Sample

	PositionBuffer *PositionBuffer

	// Version increases by exactly one on every call to statemachine.Advance
	// that accepts the state, per spec's "Version on motion-state is
	// strictly increasing per device" invariant.
	Version uint64

	ActiveTrip *TripContext
	ActiveStop *StopContext
}

// NewDeviceState creates an empty DeviceState for deviceID.
func NewDeviceState(deviceID string) *DeviceState {
	return &DeviceState{
		DeviceID:       deviceID,
		State:          StateUnknown,
		PositionBuffer: NewPositionBuffer(),
	}
}

// SpeedAverages returns the rolling 30s/60s/300s average speeds as of asOf.
func (d *DeviceState) SpeedAverages(asOf time.Time) (avg30, avg60, avg300 float64) {
	avg30, _ = d.PositionBuffer.SpeedAverage(asOf, 30*time.Second)
	avg60, _ = d.PositionBuffer.SpeedAverage(asOf, 60*time.Second)
	avg300, _ = d.PositionBuffer.SpeedAverage(asOf, 300*time.Second)
	return avg30, avg60, avg300
}

// Clone returns a deep-enough copy of d suitable for handing to the segment
// validator / state machine without the caller mutating shared state. The
// PositionBuffer backing array is shared (written only through Push) since
// only one dispatcher worker ever touches a device's state.
func (d *DeviceState) Clone() *DeviceState {
	clone := *d
	if d.ActiveTrip != nil {
		trip := *d.ActiveTrip
		clone.ActiveTrip = &trip
	}
	if d.ActiveStop != nil {
		stop := *d.ActiveStop
		clone.ActiveStop = &stop
	}
	return &clone
}
