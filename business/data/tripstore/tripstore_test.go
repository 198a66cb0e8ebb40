package tripstore

import (
	"testing"
	"time"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

func TestFromContextTrip(t *testing.T) {
	ctx := &motiondata.TripContext{
		TripID:    "trip-1",
		StartTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		StartLat:  -31.42,
		StartLon:  -64.18,
		Metadata:  motiondata.Metadata{"fleet": "north"},
	}
	row := TripFromContext(ctx, "D1")
	if row.TripID != "trip-1" || row.DeviceID != "D1" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.EndTime != nil {
		t.Fatalf("expected a freshly opened trip to have no end_time")
	}
	if len(row.Metadata) == 0 {
		t.Fatalf("expected metadata to be marshaled")
	}
}

func TestFromContextStop(t *testing.T) {
	ctx := &motiondata.StopContext{
		StopID:    "stop-1",
		TripID:    "trip-1",
		StartTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		StartLat:  -31.42,
		StartLon:  -64.18,
		Reason:    motiondata.StopReasonIgnitionOff,
	}
	row := StopFromContext(ctx, "D1")
	if row.StopID != "stop-1" || row.TripID != "trip-1" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.Reason != string(motiondata.StopReasonIgnitionOff) {
		t.Fatalf("Reason = %s, want %s", row.Reason, motiondata.StopReasonIgnitionOff)
	}
}
