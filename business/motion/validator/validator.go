// Package validator implements the segment distance validator (spec section
// 4.1): given two consecutive samples it decides whether the distance
// between them should count toward the odometer, be zeroed as GPS noise, or
// be rejected as physically impossible.
package validator

import (
	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/fleetsignal/motiontrack/business/motion/geo"
)

const (
	maxImplicitSpeedKmh = 200.0

	provenMotionDistanceM = 300.0

	noiseMaxDistanceFromOriginM = 150.0
	noiseMaxBoundingBoxM        = 100.0
	noiseMaxAvgSpeedKmh         = 5.0
	noiseMaxReportedSpeedKmh    = 5.0
	noiseMaxOriginalDistanceM   = 20.0

	isolatedJitterMaxDistanceM = 5.0
)

// Result is the outcome of validating one segment.
type Result struct {
	IsValid          bool
	AdjustedDistance float64
	OriginalDistance float64
	Reason           motiondata.SegmentAnomalyReason // empty when IsValid and no noise was detected
	Metadata         map[string]interface{}
}

// ValidateSegment implements the algorithm in spec section 4.1. tripCtx may
// be nil when the device has no active trip.
func ValidateSegment(prev, curr motiondata.Sample, tripCtx *motiondata.TripContext) Result {
	originalDistance := geo.HaversineMeters(prev.Point(), curr.Point())
	deltaSeconds := float64(curr.Timestamp-prev.Timestamp) / 1000.0

	if deltaSeconds <= 0 {
		return Result{
			IsValid:          false,
			AdjustedDistance: 0,
			OriginalDistance: originalDistance,
			Reason:           motiondata.AnomalyInvalidTime,
		}
	}

	implicitSpeedKmh := (originalDistance / deltaSeconds) * 3.6
	if implicitSpeedKmh > maxImplicitSpeedKmh {
		return Result{
			IsValid:          false,
			AdjustedDistance: 0,
			OriginalDistance: originalDistance,
			Reason:           motiondata.AnomalyImpossibleSpeed,
		}
	}

	if tripCtx != nil {
		if tripCtx.MaxDistanceFromOrigin >= provenMotionDistanceM {
			return Result{IsValid: true, AdjustedDistance: originalDistance, OriginalDistance: originalDistance}
		}

		bboxDiameter := tripCtx.BoundingBox.DiameterMeters()
		var avgSpeed float64
		if tripCtx.PositionCount > 0 {
			avgSpeed = tripCtx.SpeedSum / float64(tripCtx.PositionCount)
		}

		if tripCtx.MaxDistanceFromOrigin < noiseMaxDistanceFromOriginM &&
			bboxDiameter < noiseMaxBoundingBoxM &&
			avgSpeed < noiseMaxAvgSpeedKmh &&
			curr.Speed < noiseMaxReportedSpeedKmh &&
			originalDistance < noiseMaxOriginalDistanceM {
			return Result{
				IsValid:          true,
				AdjustedDistance: 0,
				OriginalDistance: originalDistance,
				Reason:           motiondata.AnomalyGPSNoise,
			}
		}

		return Result{IsValid: true, AdjustedDistance: originalDistance, OriginalDistance: originalDistance}
	}

	// No trip context: still zero isolated jitter when the vehicle reports
	// standstill (spec section 4.1 step 6).
	if curr.Speed == 0 && originalDistance < isolatedJitterMaxDistanceM {
		return Result{IsValid: true, AdjustedDistance: 0, OriginalDistance: originalDistance}
	}

	return Result{IsValid: true, AdjustedDistance: originalDistance, OriginalDistance: originalDistance}
}

// UpdateTripContext extends the bounding box, max-distance-from-origin and
// speed accumulators in ctx with curr, per spec section 4.1's
// updateTripContext.
func UpdateTripContext(ctx *motiondata.TripContext, curr motiondata.Sample) {
	ctx.BoundingBox.Extend(curr.Point())

	origin := geo.Point{Lat: ctx.StartLat, Lon: ctx.StartLon}
	distFromOrigin := geo.HaversineMeters(origin, curr.Point())
	if distFromOrigin > ctx.MaxDistanceFromOrigin {
		ctx.MaxDistanceFromOrigin = distFromOrigin
	}

	ctx.SpeedSum += curr.Speed
	ctx.PositionCount++
}
