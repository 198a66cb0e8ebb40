package motion

// State is the motion classification of a device at a point in time.
type State string

const (
	StateUnknown State = "UNKNOWN"
	StateStopped State = "STOPPED"
	StateIdle    State = "IDLE"
	StateMoving  State = "MOVING"
)

// DetectionMethod describes what triggered a trip's creation.
type DetectionMethod string

const (
	DetectionMethodIgnition DetectionMethod = "ignition"
	DetectionMethodMotion   DetectionMethod = "motion"
)

// StopReason classifies why a stop was opened.
type StopReason string

const (
	StopReasonIgnitionOff StopReason = "ignition_off"
	StopReasonNoMovement  StopReason = "no_movement"
	StopReasonParking     StopReason = "parking"
)

// SegmentAnomalyReason explains why the segment validator rejected or zeroed
// a segment's distance.
type SegmentAnomalyReason string

const (
	AnomalyInvalidTime     SegmentAnomalyReason = "INVALID_TIME"
	AnomalyImpossibleSpeed SegmentAnomalyReason = "IMPOSSIBLE_SPEED"
	AnomalyGPSNoise        SegmentAnomalyReason = "GPS_NOISE"
)

// TripQualityFlag is the categorical outcome of the post-completion quality
// analysis of a trip.
type TripQualityFlag string

const (
	QualityValid            TripQualityFlag = "VALID"
	QualityGPSNoiseFiltered TripQualityFlag = "GPS_NOISE_FILTERED"
	QualityCircularRoute    TripQualityFlag = "CIRCULAR_ROUTE"
	QualityShortTrip        TripQualityFlag = "SHORT_TRIP"
)

// PowerType classifies how a tracker appears to be wired into the vehicle.
type PowerType string

const (
	PowerTypeUnknown   PowerType = "unknown"
	PowerTypePermanent PowerType = "permanent"
	PowerTypeSwitched  PowerType = "switched"
)

// Health is the coarse reachability classification of a device, derived from
// how long ago it was last seen.
type Health string

const (
	HealthOnline  Health = "online"
	HealthStale   Health = "stale"
	HealthOffline Health = "offline"
)
