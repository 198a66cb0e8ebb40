package tripstore

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

// RecordTrackerState upserts a device's TrackerState row. Called on the
// write-behind cadence of spec section 4.5 (every 100 positions or once an
// hour) rather than on every sample, to keep write volume manageable.
func RecordTrackerState(db *sqlx.DB, ts *motiondata.TrackerState) error {
	statementString := "insert into tracker_state (" +
		"device_id, total_odometer, odometer_offset, trip_odometer_start, " +
		"last_latitude, last_longitude, last_speed, last_ignition, last_seen_at, first_seen_at, " +
		"total_trips_count, total_stops_count, total_driving_time, total_idle_time, " +
		"overnight_gap_count, last_overnight_gap_at, power_type) values (" +
		":device_id, :total_odometer, :odometer_offset, :trip_odometer_start, " +
		":last_latitude, :last_longitude, :last_speed, :last_ignition, :last_seen_at, :first_seen_at, " +
		":total_trips_count, :total_stops_count, :total_driving_time, :total_idle_time, " +
		":overnight_gap_count, :last_overnight_gap_at, :power_type) " +
		"on conflict (device_id) do update set " +
		"total_odometer = excluded.total_odometer, odometer_offset = excluded.odometer_offset, " +
		"trip_odometer_start = excluded.trip_odometer_start, " +
		"last_latitude = excluded.last_latitude, last_longitude = excluded.last_longitude, " +
		"last_speed = excluded.last_speed, last_ignition = excluded.last_ignition, " +
		"last_seen_at = excluded.last_seen_at, " +
		"total_trips_count = excluded.total_trips_count, total_stops_count = excluded.total_stops_count, " +
		"total_driving_time = excluded.total_driving_time, total_idle_time = excluded.total_idle_time, " +
		"overnight_gap_count = excluded.overnight_gap_count, " +
		"last_overnight_gap_at = excluded.last_overnight_gap_at, power_type = excluded.power_type"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, ts)
	return err
}

// GetTrackerState loads a device's persisted TrackerState, used to warm the
// hot state store on cold start when Redis has no mirrored copy.
func GetTrackerState(db *sqlx.DB, deviceID string) (*motiondata.TrackerState, error) {
	ts := motiondata.TrackerState{}
	err := db.Get(&ts, db.Rebind("select * from tracker_state where device_id = ?"), deviceID)
	if err != nil {
		return nil, fmt.Errorf("loading tracker state for %s: %w", deviceID, err)
	}
	return &ts, nil
}

// GetAllTrackerStates returns every tracked device, used by the report
// API's fleet-wide status listing (GET /devices/status).
func GetAllTrackerStates(db *sqlx.DB) ([]*motiondata.TrackerState, error) {
	rows, err := db.Queryx("select * from tracker_state order by device_id")
	if err != nil {
		return nil, fmt.Errorf("querying tracker states: %w", err)
	}
	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	states := make([]*motiondata.TrackerState, 0)
	for rows.Next() {
		ts := motiondata.TrackerState{}
		if err := rows.StructScan(&ts); err != nil {
			return nil, fmt.Errorf("scanning tracker_state row: %w", err)
		}
		states = append(states, &ts)
	}
	return states, rows.Err()
}
