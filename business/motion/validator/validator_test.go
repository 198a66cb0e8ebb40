package validator

import (
	"testing"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/fleetsignal/motiontrack/business/motion/geo"
)

func sampleAt(ts int64, lat, lon, speed float64) motiondata.Sample {
	return motiondata.Sample{DeviceID: "D1", Timestamp: ts, Latitude: lat, Longitude: lon, Speed: speed}
}

func TestValidateSegment(t *testing.T) {
	tests := []struct {
		name       string
		prev, curr motiondata.Sample
		tripCtx    *motiondata.TripContext
		wantValid  bool
		wantReason motiondata.SegmentAnomalyReason
		wantZero   bool
	}{
		{
			name:       "non-positive time delta is rejected",
			prev:       sampleAt(1000, -31.42, -64.18, 10),
			curr:       sampleAt(1000, -31.4201, -64.1801, 10),
			wantValid:  false,
			wantReason: motiondata.AnomalyInvalidTime,
			wantZero:   true,
		},
		{
			name:       "impossible jump is rejected",
			prev:       sampleAt(0, -31.42, -64.18, 10),
			curr:       sampleAt(1000, -31.00, -64.00, 10), // ~50km in 1s
			wantValid:  false,
			wantReason: motiondata.AnomalyImpossibleSpeed,
			wantZero:   true,
		},
		{
			name:      "no trip context, isolated jitter at zero speed is zeroed",
			prev:      sampleAt(0, -34.6037, -58.3816, 0),
			curr:      sampleAt(5000, -34.60372, -58.38162, 0),
			wantValid: true,
			wantZero:  true,
		},
		{
			name:      "no trip context, genuine movement counts",
			prev:      sampleAt(0, -34.6037, -58.3816, 30),
			curr:      sampleAt(5000, -34.6050, -58.3830, 30),
			wantValid: true,
			wantZero:  false,
		},
		{
			name: "proven motion accepts full distance even amid noisy stats",
			prev: sampleAt(0, -34.6037, -58.3816, 2),
			curr: sampleAt(5000, -34.60375, -58.38165, 2),
			tripCtx: &motiondata.TripContext{
				StartLat:              -34.6037,
				StartLon:              -58.3816,
				MaxDistanceFromOrigin: 400,
			},
			wantValid: true,
			wantZero:  false,
		},
		{
			name: "gps noise while parked",
			prev: sampleAt(0, -34.6037, -58.3816, 1),
			curr: sampleAt(1000, -34.60371, -58.38161, 1),
			tripCtx: &motiondata.TripContext{
				StartLat:              -34.6037,
				StartLon:              -58.3816,
				MaxDistanceFromOrigin: 10,
				SpeedSum:              10,
				PositionCount:         10,
			},
			wantValid:  true,
			wantReason: motiondata.AnomalyGPSNoise,
			wantZero:   true,
		},
		{
			name: "trip context present, genuine segment accepted",
			prev: sampleAt(0, -34.6037, -58.3816, 40),
			curr: sampleAt(5000, -34.6050, -58.3830, 40),
			tripCtx: &motiondata.TripContext{
				StartLat:              -34.6037,
				StartLon:              -58.3816,
				MaxDistanceFromOrigin: 180,
				SpeedSum:              400,
				PositionCount:         10,
			},
			wantValid: true,
			wantZero:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateSegment(tt.prev, tt.curr, tt.tripCtx)
			if result.IsValid != tt.wantValid {
				t.Errorf("IsValid = %v, want %v", result.IsValid, tt.wantValid)
			}
			if result.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", result.Reason, tt.wantReason)
			}
			if tt.wantZero && result.AdjustedDistance != 0 {
				t.Errorf("AdjustedDistance = %v, want 0", result.AdjustedDistance)
			}
			if !tt.wantZero && result.AdjustedDistance <= 0 {
				t.Errorf("AdjustedDistance = %v, want > 0", result.AdjustedDistance)
			}
			if result.AdjustedDistance > result.OriginalDistance {
				t.Errorf("AdjustedDistance (%v) > OriginalDistance (%v)", result.AdjustedDistance, result.OriginalDistance)
			}
		})
	}
}

func TestUpdateTripContext(t *testing.T) {
	ctx := &motiondata.TripContext{StartLat: -31.4200, StartLon: -64.1880}
	UpdateTripContext(ctx, sampleAt(0, -31.4200, -64.1880, 10))
	UpdateTripContext(ctx, sampleAt(5000, -31.4250, -64.1900, 20))

	if ctx.PositionCount != 2 {
		t.Errorf("PositionCount = %d, want 2", ctx.PositionCount)
	}
	if ctx.SpeedSum != 30 {
		t.Errorf("SpeedSum = %v, want 30", ctx.SpeedSum)
	}
	wantDist := geo.HaversineMeters(geo.Point{Lat: -31.4200, Lon: -64.1880}, geo.Point{Lat: -31.4250, Lon: -64.1900})
	if ctx.MaxDistanceFromOrigin != wantDist {
		t.Errorf("MaxDistanceFromOrigin = %v, want %v", ctx.MaxDistanceFromOrigin, wantDist)
	}
}
