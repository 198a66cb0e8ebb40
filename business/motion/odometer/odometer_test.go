package odometer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

var timeZero = time.Unix(0, 0)

func TestApplyDistanceAccumulates(t *testing.T) {
	ts := motiondata.NewTrackerState("D1", timeZero)
	ApplyDistance(ts, 100)
	ApplyDistance(ts, 50)
	ApplyDistance(ts, -10) // never subtracts
	require.Equal(t, 150.0, ts.TotalOdometer)
}

func TestTripDistanceTracksSinceStart(t *testing.T) {
	ts := motiondata.NewTrackerState("D1", timeZero)
	ApplyDistance(ts, 1000)
	StartTrip(ts)
	ApplyDistance(ts, 250)
	require.Equal(t, 250.0, TripDistance(ts))
	EndTrip(ts)
	require.Nil(t, ts.TripOdometerStart, "expected trip odometer snapshot cleared")
}

func TestCorrectSetsOffsetNotTotal(t *testing.T) {
	ts := motiondata.NewTrackerState("D1", timeZero)
	ApplyDistance(ts, 10000)
	Correct(ts, 20000)
	require.Equal(t, 10000.0, ts.TotalOdometer, "Correct must not touch TotalOdometer")
	require.Equal(t, 20000.0, ts.DisplayOdometer())

	// further GPS-derived distance accumulates on top of the offset; the
	// offset itself is never re-derived.
	ApplyDistance(ts, 500)
	require.Equal(t, 20500.0, ts.DisplayOdometer())
}

func TestResetClearsOffsetToo(t *testing.T) {
	ts := motiondata.NewTrackerState("D1", timeZero)
	ApplyDistance(ts, 10000)
	Correct(ts, 20000)
	Reset(ts)
	require.Zero(t, ts.TotalOdometer)
	require.Zero(t, ts.OdometerOffset)
}

func TestValidateCorrectionRejectsBackwards(t *testing.T) {
	ts := motiondata.NewTrackerState("D1", timeZero)
	ApplyDistance(ts, 10000)
	require.Error(t, ValidateCorrection(ts, 5000, false), "expected a backwards correction to be rejected")
	require.NoError(t, ValidateCorrection(ts, 5000, true), "force should bypass the backwards check")
	require.NoError(t, ValidateCorrection(ts, 15000, false), "forward correction should be allowed")
}

func TestBuildViewOmitsTripWhenNoneOpen(t *testing.T) {
	ts := motiondata.NewTrackerState("D1", timeZero)
	ApplyDistance(ts, 1200)
	view := BuildView(ts)
	require.Equal(t, 1200.0, view.Total)
	require.Nil(t, view.CurrentTrip, "expected no current trip distance when no trip is open")

	StartTrip(ts)
	ApplyDistance(ts, 300)
	view = BuildView(ts)
	require.NotNil(t, view.CurrentTrip)
	require.Equal(t, 300.0, *view.CurrentTrip)
}
