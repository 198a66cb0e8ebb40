package quality

import (
	"testing"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

func TestAnalyzeValidTrip(t *testing.T) {
	trip := &motiondata.TripContext{
		StartLat:         -31.4200,
		StartLon:         -64.1880,
		OriginalDistance: 5000,
		Distance:         4900,
		SegmentsTotal:    50,
		GPSNoiseSegments: 1,
	}
	q := Analyze(trip, -31.4600, -64.1500)
	if q.Flag != motiondata.QualityValid {
		t.Fatalf("expected VALID, got %s", q.Flag)
	}
	if q.OriginalDistance != 5000 {
		t.Fatalf("OriginalDistance = %v, want 5000", q.OriginalDistance)
	}
}

func TestAnalyzeCircularRoute(t *testing.T) {
	trip := &motiondata.TripContext{
		StartLat:         -31.4200,
		StartLon:         -64.1880,
		OriginalDistance: 3000,
		Distance:         2900,
		SegmentsTotal:    40,
	}
	// end point essentially at the start: a loop.
	q := Analyze(trip, -31.4201, -64.1881)
	if q.Flag != motiondata.QualityCircularRoute {
		t.Fatalf("expected CIRCULAR_ROUTE, got %s", q.Flag)
	}
}

func TestAnalyzeGPSNoiseFiltered(t *testing.T) {
	trip := &motiondata.TripContext{
		StartLat:         -31.4200,
		StartLon:         -64.1880,
		OriginalDistance: 2000,
		Distance:         1800,
		SegmentsTotal:    20,
		GPSNoiseSegments: 8, // 40%
	}
	q := Analyze(trip, -31.5000, -64.2500)
	if q.Flag != motiondata.QualityGPSNoiseFiltered {
		t.Fatalf("expected GPS_NOISE_FILTERED, got %s", q.Flag)
	}
}

func TestAnalyzeShortTrip(t *testing.T) {
	trip := &motiondata.TripContext{
		StartLat:         -31.4200,
		StartLon:         -64.1880,
		OriginalDistance: 150,
		Distance:         120,
		SegmentsTotal:    5,
	}
	q := Analyze(trip, -31.4210, -64.1890)
	if q.Flag != motiondata.QualityShortTrip {
		t.Fatalf("expected SHORT_TRIP, got %s", q.Flag)
	}
}
