package tripstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetsignal/motiontrack/foundation/database"
	"github.com/jmoiron/sqlx"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

// Stop is the persisted row for a completed or in-progress stop.
type Stop struct {
	StopID    string          `db:"stop_id" json:"stopId"`
	TripID    string          `db:"trip_id" json:"tripId,omitempty"`
	DeviceID  string          `db:"device_id" json:"deviceId"`
	StartTime time.Time       `db:"start_time" json:"startTime"`
	StartLat  float64         `db:"start_lat" json:"startLat"`
	StartLon  float64         `db:"start_lon" json:"startLon"`
	EndTime   *time.Time      `db:"end_time" json:"endTime,omitempty"`
	Reason    string          `db:"reason" json:"reason"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// RecordStop inserts or updates a stop row, upserting on stop_id the same
// way RecordTrip does. updated_at is bumped on every call, the same signal
// the orphan reaper uses for trips.
func RecordStop(db *sqlx.DB, s *Stop) error {
	s.UpdatedAt = time.Now()
	statementString := "insert into stop (" +
		"stop_id, trip_id, device_id, start_time, start_lat, start_lon, " +
		"end_time, reason, metadata, created_at, updated_at) values (" +
		":stop_id, :trip_id, :device_id, :start_time, :start_lat, :start_lon, " +
		":end_time, :reason, :metadata, :created_at, :updated_at) " +
		"on conflict (stop_id) do update set end_time = excluded.end_time, updated_at = excluded.updated_at"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, s)
	return err
}

// DeleteStop removes a single stop row by stop_id. Discarded trips remove
// their stops through DeleteStopsForTrip instead.
func DeleteStop(db *sqlx.DB, stopID string) error {
	_, err := db.Exec(db.Rebind("delete from stop where stop_id = ?"), stopID)
	return err
}

// DeleteStopsForTrip removes every stop belonging to tripID, used when the
// trip itself is discarded.
func DeleteStopsForTrip(db *sqlx.DB, tripID string) error {
	_, err := db.Exec(db.Rebind("delete from stop where trip_id = ?"), tripID)
	return err
}

// GetStops returns stops for deviceID with start_time in [from, to), most
// recent first, optionally filtered by a metadata key/value pair.
func GetStops(db *sqlx.DB, deviceID string, from, to time.Time, metadataKey, metadataValue string) ([]*Stop, error) {
	args := map[string]interface{}{
		"device_id": deviceID,
		"from":      from,
		"to":        to,
	}
	statementString := "select * from stop where device_id = :device_id " +
		"and start_time >= :from and start_time < :to "
	if metadataKey != "" {
		statementString += "and metadata ->> :metadata_key = :metadata_value "
		args["metadata_key"] = metadataKey
		args["metadata_value"] = metadataValue
	}
	statementString += "order by start_time desc"

	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, args)
	if err != nil {
		return nil, fmt.Errorf("querying stops for %s: %w", deviceID, err)
	}
	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	stops := make([]*Stop, 0)
	for rows.Next() {
		s := Stop{}
		if err := rows.StructScan(&s); err != nil {
			return nil, fmt.Errorf("scanning stop row: %w", err)
		}
		stops = append(stops, &s)
	}
	return stops, rows.Err()
}

// GetOpenStops returns every stop with no end_time, used by the orphan
// reaper.
func GetOpenStops(db *sqlx.DB) ([]*Stop, error) {
	rows, err := db.Queryx("select * from stop where end_time is null order by start_time")
	if err != nil {
		return nil, fmt.Errorf("querying open stops: %w", err)
	}
	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	stops := make([]*Stop, 0)
	for rows.Next() {
		s := Stop{}
		if err := rows.StructScan(&s); err != nil {
			return nil, fmt.Errorf("scanning open stop row: %w", err)
		}
		stops = append(stops, &s)
	}
	return stops, rows.Err()
}

// StopFromContext builds the persisted row for a stop that is still open.
func StopFromContext(ctx *motiondata.StopContext, deviceID string) *Stop {
	meta, _ := json.Marshal(ctx.Metadata)
	now := time.Now()
	return &Stop{
		StopID:    ctx.StopID,
		TripID:    ctx.TripID,
		DeviceID:  deviceID,
		StartTime: ctx.StartTime,
		StartLat:  ctx.StartLat,
		StartLon:  ctx.StartLon,
		Reason:    string(ctx.Reason),
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
