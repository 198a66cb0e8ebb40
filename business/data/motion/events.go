package motion

import "time"

// GeoPoint is a GeoJSON Point, coordinates ordered [lon, lat] as required by
// the spec's bus payload schemas.
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewGeoPoint builds a GeoPoint from latitude/longitude.
func NewGeoPoint(lat, lon float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lon, lat}}
}

// PositionRejected is the payload of the position:rejected subject, sent by
// bus.Publisher.PositionRejected. The motion-tracker binary does not
// range-check position:new payloads and does not publish this event: a
// payload that fails to decode is logged and dropped.
type PositionRejected struct {
	DeviceID      string    `json:"deviceId"`
	Reason        string    `json:"reason"`
	RejectedAt    time.Time `json:"rejectedAt"`
	OriginalEvent Sample    `json:"originalEvent"`
}

// IgnitionChanged is published on the ignition:changed subject.
type IgnitionChanged struct {
	DeviceID  string   `json:"deviceId"`
	Timestamp int64    `json:"timestamp"`
	Ignition  bool     `json:"ignition"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// TripStarted is published on the trip:started subject.
type TripStarted struct {
	TripID          string          `json:"tripId"`
	DeviceID        string          `json:"deviceId"`
	StartTime       time.Time       `json:"startTime"`
	StartLocation   GeoPoint        `json:"startLocation"`
	DetectionMethod DetectionMethod `json:"detectionMethod"`
	CurrentState    State           `json:"currentState"`
	Odometer        float64         `json:"odometer"`
	Metadata        Metadata        `json:"metadata,omitempty"`
}

// TripCompleted is published on the trip:completed subject.
type TripCompleted struct {
	TripID          string          `json:"tripId"`
	DeviceID        string          `json:"deviceId"`
	StartTime       time.Time       `json:"startTime"`
	StartLocation   GeoPoint        `json:"startLocation"`
	DetectionMethod DetectionMethod `json:"detectionMethod"`
	Odometer        float64         `json:"odometer"`
	Metadata        Metadata        `json:"metadata,omitempty"`

	EndTime      time.Time `json:"endTime"`
	DurationSecs int64     `json:"duration"`
	DistanceM    float64   `json:"distance"`
	AvgSpeed     float64   `json:"avgSpeed"`
	MaxSpeed     float64   `json:"maxSpeed"`
	StopsCount   int       `json:"stopsCount"`
	EndLocation  GeoPoint  `json:"endLocation"`
	CurrentState State     `json:"currentState"` // STOPPED or IDLE

	Quality *TripQuality `json:"quality,omitempty"`
}

// TripQuality is the quality-analysis block attached to trip:completed and
// to the persisted trip row, computed by business/motion/quality.
type TripQuality struct {
	OriginalDistance      float64         `json:"originalDistance"`
	LinearDistance        float64         `json:"linearDistance"`
	RouteLinearRatio      float64         `json:"routeLinearRatio"`
	OperationAreaDiameter float64         `json:"operationAreaDiameter"`
	GPSNoisePercentage    float64         `json:"gpsNoisePercentage"`
	Flag                  TripQualityFlag `json:"qualityFlag"`
}

// StopStarted is published on the stop:started subject.
type StopStarted struct {
	StopID       string     `json:"stopId"`
	TripID       string     `json:"tripId,omitempty"`
	DeviceID     string     `json:"deviceId"`
	StartTime    time.Time  `json:"startTime"`
	Location     GeoPoint   `json:"location"`
	Reason       StopReason `json:"reason"`
	CurrentState State      `json:"currentState"` // IDLE
	Odometer     float64    `json:"odometer"`
	Metadata     Metadata   `json:"metadata,omitempty"`
}

// StopCompleted is published on the stop:completed subject.
type StopCompleted struct {
	StopID       string     `json:"stopId"`
	TripID       string     `json:"tripId,omitempty"`
	DeviceID     string     `json:"deviceId"`
	StartTime    time.Time  `json:"startTime"`
	Location     GeoPoint   `json:"location"`
	Reason       StopReason `json:"reason"`
	Odometer     float64    `json:"odometer"`
	Metadata     Metadata   `json:"metadata,omitempty"`

	EndTime      time.Time `json:"endTime"`
	DurationSecs int64     `json:"duration"`
	CurrentState State     `json:"currentState"`
}

// OvernightGap is published on the tracker:overnight_gap subject whenever a
// gap between samples exceeds maxOvernightGapDuration, the power-diagnostic
// signal referenced in spec section 4.2's gap handling and 4.5 step 7.
type OvernightGap struct {
	DeviceID    string    `json:"deviceId"`
	GapStart    time.Time `json:"gapStart"`
	GapEnd      time.Time `json:"gapEnd"`
	GapSeconds  int64     `json:"gapSeconds"`
}

// TrackerOdometerView is the odometer block inside tracker:state:changed.
type TrackerOdometerView struct {
	Total          float64  `json:"total"`
	TotalKm        float64  `json:"totalKm"`
	CurrentTrip    *float64 `json:"currentTrip,omitempty"`
	CurrentTripKm  *float64 `json:"currentTripKm,omitempty"`
}

// TrackerStateChanged is the payload of the tracker:state:changed subject,
// sent by bus.Publisher.TrackerStateChanged. The motion pipeline does not
// call that method, so motion state transitions do not publish this event.
type TrackerStateChanged struct {
	TrackerID      string               `json:"trackerId"`
	DeviceID       string               `json:"deviceId"`
	PreviousState  State                `json:"previousState"`
	CurrentState   State                `json:"currentState"`
	Timestamp      time.Time            `json:"timestamp"`
	Reason         string               `json:"reason"`
	Odometer       TrackerOdometerView  `json:"odometer"`
	LastPosition   GeoPoint             `json:"lastPosition"`
	CurrentTrip    *string              `json:"currentTrip,omitempty"`
}
