// Package reaper periodically sweeps for orphaned trips and stops: devices
// that stopped reporting while a trip or stop was open, leaving the hot
// state machine no further sample to trigger closure (spec section 4.2's
// orphan handling, OrphanTripTimeoutSec). Grounded on the teacher's
// self-adjusting loop in app/gtfs-monitor/monitor.RunVehicleMonitorLoop.
package reaper

import (
	logger "log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetsignal/motiontrack/business/bus"
	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/fleetsignal/motiontrack/business/data/tripstore"
	"github.com/fleetsignal/motiontrack/business/motion/quality"
)

// Conf configures the reaper's sweep cadence and orphan threshold.
type Conf struct {
	LoopEverySeconds   int
	OrphanTimeoutSec   int
}

// Run starts the sweep loop, following the teacher's pattern of tracking
// how long each pass took and sleeping only the remainder of the interval.
func Run(log *logger.Logger, db *sqlx.DB, publisher *bus.Publisher, cfg Conf, shutdownSignal chan os.Signal) error {
	loopDuration := time.Duration(cfg.LoopEverySeconds) * time.Second
	sleepChan := make(chan bool)
	sleep := time.Duration(0)

	for {
		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			log.Printf("reaper: exiting on shutdown signal")
			return nil
		case <-sleepChan:
		}

		sleep = loopDuration
		start := time.Now()

		if err := sweep(log, db, publisher, cfg, start); err != nil {
			log.Printf("reaper: sweep error: %v", err)
		}

		workTook := time.Since(start)
		log.Printf("reaper: sweep took %s", workTook)
		if workTook < loopDuration {
			sleep = loopDuration - workTook
		} else {
			sleep = 0
		}
	}
}

// sweep closes every open trip/stop whose device has gone quiet for longer
// than OrphanTimeoutSec.
func sweep(log *logger.Logger, db *sqlx.DB, publisher *bus.Publisher, cfg Conf, now time.Time) error {
	timeout := time.Duration(cfg.OrphanTimeoutSec) * time.Second

	openTrips, err := tripstore.GetOpenTrips(db)
	if err != nil {
		return err
	}
	for _, trip := range openTrips {
		if now.Sub(trip.UpdatedAt) < timeout {
			continue
		}
		ts, err := tripstore.GetTrackerState(db, trip.DeviceID)
		if err != nil {
			log.Printf("reaper: could not load tracker state for %s: %v", trip.DeviceID, err)
			continue
		}
		closeOrphanedTrip(log, db, publisher, trip, ts)
	}

	openStops, err := tripstore.GetOpenStops(db)
	if err != nil {
		return err
	}
	for _, stop := range openStops {
		if now.Sub(stop.UpdatedAt) < timeout {
			continue
		}
		closeOrphanedStop(log, db, stop)
	}
	return nil
}

func closeOrphanedTrip(log *logger.Logger, db *sqlx.DB, publisher *bus.Publisher, trip *tripstore.Trip, ts *motiondata.TrackerState) {
	endTime := trip.UpdatedAt
	trip.EndTime = &endTime
	trip.EndLat = &ts.LastLatitude
	trip.EndLon = &ts.LastLongitude

	durationSecs := int64(endTime.Sub(trip.StartTime).Seconds())
	persist := durationSecs >= 60 && trip.DistanceM >= 100

	if !persist {
		if err := tripstore.DeleteTrip(db, trip.TripID); err != nil {
			log.Printf("reaper: error discarding orphaned trip %s: %v", trip.TripID, err)
		}
		if err := tripstore.DeleteStopsForTrip(db, trip.TripID); err != nil {
			log.Printf("reaper: error discarding stops for orphaned trip %s: %v", trip.TripID, err)
		}
		return
	}

	q := quality.Analyze(&motiondata.TripContext{
		StartLat:         trip.StartLat,
		StartLon:         trip.StartLon,
		OriginalDistance: trip.DistanceM,
		Distance:         trip.DistanceM,
		SegmentsTotal:    1,
	}, ts.LastLatitude, ts.LastLongitude)
	trip.QualityFlag = string(q.Flag)
	trip.GPSNoisePercent = q.GPSNoisePercentage

	if err := tripstore.RecordTrip(db, trip); err != nil {
		log.Printf("reaper: error closing orphaned trip %s: %v", trip.TripID, err)
		return
	}

	publisher.TripCompleted(motiondata.TripCompleted{
		TripID:       trip.TripID,
		DeviceID:     trip.DeviceID,
		StartTime:    trip.StartTime,
		StartLocation: motiondata.NewGeoPoint(trip.StartLat, trip.StartLon),
		EndTime:      endTime,
		DurationSecs: durationSecs,
		DistanceM:    trip.DistanceM,
		MaxSpeed:     trip.MaxSpeedKmh,
		StopsCount:   trip.StopsCount,
		EndLocation:  motiondata.NewGeoPoint(ts.LastLatitude, ts.LastLongitude),
		CurrentState: motiondata.StateUnknown,
		Quality:      &q,
	})
	log.Printf("reaper: closed orphaned trip %s for device %s", trip.TripID, trip.DeviceID)
}

func closeOrphanedStop(log *logger.Logger, db *sqlx.DB, stop *tripstore.Stop) {
	end := stop.UpdatedAt
	stop.EndTime = &end
	if err := tripstore.RecordStop(db, stop); err != nil {
		log.Printf("reaper: error closing orphaned stop %s: %v", stop.StopID, err)
		return
	}
	log.Printf("reaper: closed orphaned stop %s for device %s", stop.StopID, stop.DeviceID)
}
