// Package quality computes the post-completion quality analysis attached to
// a trip once it closes, classifying it as a clean trip, a noise-dominated
// trip, a circular route that never went anywhere, or a short trip that
// barely cleared the persistence threshold.
package quality

import (
	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/fleetsignal/motiontrack/business/motion/geo"
)

const (
	// circularRouteMinOriginalDistanceM guards against flagging very short
	// trips as circular just because they start and end close together.
	circularRouteMinOriginalDistanceM = 500.0
	circularRouteMaxLinearRatio       = 0.15
	gpsNoiseFilteredThresholdPct      = 20.0
	shortTripDistanceM                = 300.0
)

// Analyze builds the TripQuality block for a trip that just closed.
// endLat/endLon are the trip's closing position.
func Analyze(trip *motiondata.TripContext, endLat, endLon float64) motiondata.TripQuality {
	linear := geo.HaversineMeters(
		geo.Point{Lat: trip.StartLat, Lon: trip.StartLon},
		geo.Point{Lat: endLat, Lon: endLon},
	)

	ratio := 0.0
	if trip.OriginalDistance > 0 {
		ratio = linear / trip.OriginalDistance
	}

	noisePct := 0.0
	if trip.SegmentsTotal > 0 {
		noisePct = float64(trip.GPSNoiseSegments) / float64(trip.SegmentsTotal) * 100
	}

	q := motiondata.TripQuality{
		OriginalDistance:      trip.OriginalDistance,
		LinearDistance:        linear,
		RouteLinearRatio:      ratio,
		OperationAreaDiameter: trip.BoundingBox.DiameterMeters(),
		GPSNoisePercentage:    noisePct,
		Flag:                  classify(trip, linear, ratio, noisePct),
	}
	return q
}

func classify(trip *motiondata.TripContext, linear, ratio, noisePct float64) motiondata.TripQualityFlag {
	switch {
	case trip.OriginalDistance >= circularRouteMinOriginalDistanceM && ratio <= circularRouteMaxLinearRatio:
		return motiondata.QualityCircularRoute
	case noisePct >= gpsNoiseFilteredThresholdPct:
		return motiondata.QualityGPSNoiseFiltered
	case trip.Distance < shortTripDistanceM:
		return motiondata.QualityShortTrip
	default:
		return motiondata.QualityValid
	}
}
