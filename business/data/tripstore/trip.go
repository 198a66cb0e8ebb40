// Package tripstore persists trips, stops and tracker state to Postgres,
// the durable system of record behind the hot state mirror in
// business/data/hotstate, grounded on the teacher's business/data/gtfs CRUD
// style.
package tripstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetsignal/motiontrack/foundation/database"
	"github.com/jmoiron/sqlx"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

// Trip is the persisted row for a completed or in-progress trip.
type Trip struct {
	TripID          string          `db:"trip_id" json:"tripId"`
	DeviceID        string          `db:"device_id" json:"deviceId"`
	StartTime       time.Time       `db:"start_time" json:"startTime"`
	StartLat        float64         `db:"start_lat" json:"startLat"`
	StartLon        float64         `db:"start_lon" json:"startLon"`
	EndTime         *time.Time      `db:"end_time" json:"endTime,omitempty"`
	EndLat          *float64        `db:"end_lat" json:"endLat,omitempty"`
	EndLon          *float64        `db:"end_lon" json:"endLon,omitempty"`
	DistanceM       float64         `db:"distance_m" json:"distanceM"`
	MaxSpeedKmh     float64         `db:"max_speed_kmh" json:"maxSpeedKmh"`
	StopsCount      int             `db:"stops_count" json:"stopsCount"`
	GPSNoisePercent float64         `db:"gps_noise_percent" json:"gpsNoisePercent"`
	QualityFlag     string          `db:"quality_flag" json:"qualityFlag"`
	Metadata        json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// RecordTrip inserts or, if a row with the same trip_id already exists,
// updates the trip — the motion pipeline calls this both when a trip opens
// (no end_time yet, to make it visible to the orphan reaper) and again when
// it closes. updated_at is bumped on every call so the orphan reaper
// (business/reaper) can tell a genuinely abandoned trip from one the
// pipeline is still actively writing to.
func RecordTrip(db *sqlx.DB, t *Trip) error {
	t.UpdatedAt = time.Now()
	statementString := "insert into trip (" +
		"trip_id, device_id, start_time, start_lat, start_lon, " +
		"end_time, end_lat, end_lon, distance_m, max_speed_kmh, stops_count, " +
		"gps_noise_percent, quality_flag, metadata, created_at, updated_at) values (" +
		":trip_id, :device_id, :start_time, :start_lat, :start_lon, " +
		":end_time, :end_lat, :end_lon, :distance_m, :max_speed_kmh, :stops_count, " +
		":gps_noise_percent, :quality_flag, :metadata, :created_at, :updated_at) " +
		"on conflict (trip_id) do update set " +
		"end_time = excluded.end_time, end_lat = excluded.end_lat, end_lon = excluded.end_lon, " +
		"distance_m = excluded.distance_m, max_speed_kmh = excluded.max_speed_kmh, " +
		"stops_count = excluded.stops_count, gps_noise_percent = excluded.gps_noise_percent, " +
		"quality_flag = excluded.quality_flag, metadata = excluded.metadata, " +
		"updated_at = excluded.updated_at"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, t)
	return err
}

// DeleteTrip removes a trip row outright, used when a trip is discarded
// (spec section 4.2's end-of-trip policy) rather than persisted.
func DeleteTrip(db *sqlx.DB, tripID string) error {
	_, err := db.Exec(db.Rebind("delete from trip where trip_id = ?"), tripID)
	return err
}

// GetTrips returns trips for deviceID with start_time in [from, to), most
// recent first, optionally filtered by a single metadata key/value pair
// (spec section 6's metadata.<key> query parameter). metadataKey empty means
// no filter.
func GetTrips(db *sqlx.DB, deviceID string, from, to time.Time, metadataKey, metadataValue string) ([]*Trip, error) {
	args := map[string]interface{}{
		"device_id": deviceID,
		"from":      from,
		"to":        to,
	}
	statementString := "select * from trip where device_id = :device_id " +
		"and start_time >= :from and start_time < :to "
	if metadataKey != "" {
		statementString += "and metadata ->> :metadata_key = :metadata_value "
		args["metadata_key"] = metadataKey
		args["metadata_value"] = metadataValue
	}
	statementString += "order by start_time desc"

	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, args)
	if err != nil {
		return nil, fmt.Errorf("querying trips for %s: %w", deviceID, err)
	}
	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	trips := make([]*Trip, 0)
	for rows.Next() {
		t := Trip{}
		if err := rows.StructScan(&t); err != nil {
			return nil, fmt.Errorf("scanning trip row: %w", err)
		}
		trips = append(trips, &t)
	}
	return trips, rows.Err()
}

// GetOpenTrips returns every trip with no end_time, used by the orphan
// reaper (business/reaper) to find trips that may have been abandoned by a
// tracker that stopped reporting.
func GetOpenTrips(db *sqlx.DB) ([]*Trip, error) {
	rows, err := db.Queryx("select * from trip where end_time is null order by start_time")
	if err != nil {
		return nil, fmt.Errorf("querying open trips: %w", err)
	}
	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	trips := make([]*Trip, 0)
	for rows.Next() {
		t := Trip{}
		if err := rows.StructScan(&t); err != nil {
			return nil, fmt.Errorf("scanning open trip row: %w", err)
		}
		trips = append(trips, &t)
	}
	return trips, rows.Err()
}

// TripFromContext builds the persisted row for a trip that is still open
// (end fields left nil).
func TripFromContext(ctx *motiondata.TripContext, deviceID string) *Trip {
	meta, _ := json.Marshal(ctx.Metadata)
	now := time.Now()
	return &Trip{
		TripID:    ctx.TripID,
		DeviceID:  deviceID,
		StartTime: ctx.StartTime,
		StartLat:  ctx.StartLat,
		StartLon:  ctx.StartLon,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
