// Package odometer maintains each device's cumulative odometer, the
// per-trip distance snapshot used to close out a trip's final distance, and
// manual operator corrections, per spec section 4.5.
package odometer

import (
	"fmt"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

// ApplyDistance folds an accepted segment's adjusted distance into the
// tracker's monotonic odometer. It is called once per validated GPS segment,
// after the state machine has decided the segment contributes to a trip.
func ApplyDistance(ts *motiondata.TrackerState, adjustedDistanceM float64) {
	if adjustedDistanceM <= 0 {
		return
	}
	ts.TotalOdometer += adjustedDistanceM
}

// StartTrip snapshots the current odometer reading as the trip's starting
// point, so TripDistance can report the GPS-derived distance driven during
// this trip independent of the state machine's own running total.
func StartTrip(ts *motiondata.TrackerState) {
	start := ts.TotalOdometer
	ts.TripOdometerStart = &start
}

// TripDistance reports how far the odometer has advanced since StartTrip was
// called for the currently open trip. Falls back to 0 if no trip is open.
func TripDistance(ts *motiondata.TrackerState) float64 {
	if ts.TripOdometerStart == nil {
		return 0
	}
	d := ts.TotalOdometer - *ts.TripOdometerStart
	if d < 0 {
		return 0
	}
	return d
}

// EndTrip clears the trip odometer snapshot once a trip closes.
func EndTrip(ts *motiondata.TrackerState) {
	ts.TripOdometerStart = nil
}

// Correct applies a manual operator correction (POST
// /devices/{deviceId}/odometer) by setting OdometerOffset so that
// DisplayOdometer reports newValueM from this point forward. The GPS-derived
// TotalOdometer accumulator itself is never altered, and the offset is never
// automatically re-applied or recalculated afterward: a later odometer
// reset starts the offset back at zero, per spec section 9's resolution of
// this behavior.
func Correct(ts *motiondata.TrackerState, newValueM float64) {
	ts.OdometerOffset = newValueM - ts.TotalOdometer
}

// Reset zeroes both the monotonic accumulator and the operator offset,
// discarding any previously applied correction.
func Reset(ts *motiondata.TrackerState) {
	ts.TotalOdometer = 0
	ts.OdometerOffset = 0
}

// ValidateCorrection rejects corrections that would make the odometer run
// backwards relative to what has already been reported, unless force is set.
func ValidateCorrection(ts *motiondata.TrackerState, newValueM float64, force bool) error {
	if force {
		return nil
	}
	if newValueM < ts.DisplayOdometer() {
		return fmt.Errorf("odometer correction %v is behind the current reading %v; retry with force to override",
			newValueM, ts.DisplayOdometer())
	}
	return nil
}

// BuildView assembles the odometer block embedded in tracker:state:changed
// events and the report API's status response.
func BuildView(ts *motiondata.TrackerState) motiondata.TrackerOdometerView {
	view := motiondata.TrackerOdometerView{
		Total:   ts.DisplayOdometer(),
		TotalKm: ts.DisplayOdometer() / 1000,
	}
	if ts.TripOdometerStart != nil {
		tripM := TripDistance(ts)
		tripKm := tripM / 1000
		view.CurrentTrip = &tripM
		view.CurrentTripKm = &tripKm
	}
	return view
}
