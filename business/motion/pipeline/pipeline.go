// Package pipeline wires together the motion state machine, hot state
// store, odometer, quality analyzer, persistence and event bus into the
// single per-sample operation the motion-tracker binary runs for every
// dispatched position (spec section 4, end to end).
package pipeline

import (
	"context"
	logger "log"

	"github.com/jmoiron/sqlx"

	"github.com/fleetsignal/motiontrack/business/bus"
	"github.com/fleetsignal/motiontrack/business/data/hotstate"
	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/fleetsignal/motiontrack/business/data/tripstore"
	"github.com/fleetsignal/motiontrack/business/motion/odometer"
	"github.com/fleetsignal/motiontrack/business/motion/quality"
	"github.com/fleetsignal/motiontrack/business/motion/statemachine"
)

// Processor runs one sample at a time through the full pipeline. It is
// called from exactly one goroutine per device (business/dispatch), so it
// does not need its own per-device locking.
type Processor struct {
	log    *logger.Logger
	db     *sqlx.DB
	hot    *hotstate.Store
	pub    *bus.Publisher
	cfg    statemachine.Config
	idGen  statemachine.IDGenerator
}

// New builds a Processor.
func New(log *logger.Logger, db *sqlx.DB, hot *hotstate.Store, pub *bus.Publisher, cfg statemachine.Config) *Processor {
	return &Processor{log: log, db: db, hot: hot, pub: pub, cfg: cfg, idGen: statemachine.DefaultIDGenerator{}}
}

// Process runs sample through validation, the state machine, persistence and
// the event bus. Errors are logged rather than returned: a single bad sample
// must never stop the device's worker from processing the next one.
func (p *Processor) Process(ctx context.Context, sample motiondata.Sample) {
	deviceID := sample.DeviceID

	ok, err := p.hot.ShouldProcess(ctx, deviceID, sample.Time())
	if err != nil {
		p.log.Printf("pipeline: throttle check failed for %s: %v", deviceID, err)
	} else if !ok {
		p.log.Printf("pipeline: dropping stale/duplicate sample for %s at %s", deviceID, sample.Time())
		return
	}

	state, found, err := p.hot.LoadDeviceState(ctx, deviceID)
	if err != nil {
		p.log.Printf("pipeline: failed loading device state for %s: %v", deviceID, err)
		return
	}
	if !found {
		state = motiondata.NewDeviceState(deviceID)
	}

	tracker, found, err := p.hot.LoadTrackerState(ctx, deviceID)
	if err != nil {
		p.log.Printf("pipeline: failed loading tracker state for %s: %v", deviceID, err)
		return
	}
	if !found {
		// Hot-store miss: fall through to the persistent store per spec
		// section 4.4 before assuming this is a brand-new device, so a
		// Redis eviction or restart never resets totalOdometer to zero.
		if persisted, err := tripstore.GetTrackerState(p.db, deviceID); err == nil {
			tracker = persisted
			if err := p.hot.SaveTrackerState(ctx, tracker); err != nil {
				p.log.Printf("pipeline: failed re-hydrating tracker state for %s: %v", deviceID, err)
			}
		} else {
			tracker = motiondata.NewTrackerState(deviceID, sample.Time())
		}
	}

	ignitionOn := sample.IgnitionOn(tracker.LastIgnition)
	previousIgnition := tracker.LastIgnition

	result := statemachine.Advance(state, sample, ignitionOn, p.cfg, p.idGen)

	p.applyOdometer(tracker, state, result)
	p.updateTrackerCounters(tracker, sample, ignitionOn, previousIgnition)

	for _, action := range result.Actions {
		p.handleAction(ctx, deviceID, action, tracker)
	}

	if err := p.hot.SaveDeviceState(ctx, result.State); err != nil {
		p.log.Printf("pipeline: failed saving device state for %s: %v", deviceID, err)
	}

	tracker.NotePosition()
	if tracker.ShouldPersist(sample.Time()) {
		if err := tripstore.RecordTrackerState(p.db, tracker); err != nil {
			p.log.Printf("pipeline: failed persisting tracker state for %s: %v", deviceID, err)
		} else {
			tracker.NotePersisted(sample.Time())
		}
	}
	if err := p.hot.SaveTrackerState(ctx, tracker); err != nil {
		p.log.Printf("pipeline: failed saving tracker state for %s: %v", deviceID, err)
	}
}

// applyOdometer folds the segment distance the state machine just
// accumulated on the active trip into the device's cumulative odometer.
// Since TripContext.Distance already reflects everything accumulated so
// far, this applies only the delta since the last sample; a trip boundary
// (close+reopen in the same round) naturally yields a non-positive delta
// here and contributes nothing, since the new trip's own StartTrip snapshot
// is taken separately by onTripStarted once the loop below reaches it.
func (p *Processor) applyOdometer(tracker *motiondata.TrackerState, prevState *motiondata.DeviceState, result statemachine.Result) {
	var prevDistance float64
	if prevState.ActiveTrip != nil {
		prevDistance = prevState.ActiveTrip.Distance
	}
	var currDistance float64
	if result.State.ActiveTrip != nil && prevState.ActiveTrip != nil && prevState.ActiveTrip.TripID == result.State.ActiveTrip.TripID {
		currDistance = result.State.ActiveTrip.Distance
	}
	if delta := currDistance - prevDistance; delta > 0 {
		odometer.ApplyDistance(tracker, delta)
	}
}

func (p *Processor) updateTrackerCounters(tracker *motiondata.TrackerState, sample motiondata.Sample, ignitionOn, previousIgnition bool) {
	tracker.LastLatitude = sample.Latitude
	tracker.LastLongitude = sample.Longitude
	tracker.LastSpeed = sample.Speed
	tracker.LastIgnition = ignitionOn
	tracker.LastSeenAt = sample.Time()

	if sample.Ignition != nil && ignitionOn != previousIgnition {
		lat, lon := sample.Latitude, sample.Longitude
		p.pub.IgnitionChanged(motiondata.IgnitionChanged{
			DeviceID:  tracker.DeviceID,
			Timestamp: sample.Timestamp,
			Ignition:  ignitionOn,
			Latitude:  &lat,
			Longitude: &lon,
		})
	}
}

func (p *Processor) handleAction(ctx context.Context, deviceID string, action statemachine.Action, tracker *motiondata.TrackerState) {
	switch action.Kind {
	case statemachine.ActionStartTrip:
		p.onTripStarted(deviceID, action, tracker)
	case statemachine.ActionEndTrip:
		p.onTripClosed(action, tracker, true)
	case statemachine.ActionDiscardTrip:
		p.onTripClosed(action, tracker, false)
	case statemachine.ActionStartStop:
		p.onStopStarted(deviceID, action, tracker)
	case statemachine.ActionEndStop:
		p.onStopClosed(deviceID, action)
	case statemachine.ActionOvernightGap:
		tracker.OvernightGapCount++
		gapEnd := action.GapEnd
		tracker.LastOvernightGapAt = &gapEnd
		if tracker.OvernightGapCount >= 3 {
			tracker.PowerType = motiondata.PowerTypeSwitched
		}
		p.pub.OvernightGap(motiondata.OvernightGap{
			DeviceID:   deviceID,
			GapStart:   action.GapStart,
			GapEnd:     action.GapEnd,
			GapSeconds: int64(action.GapEnd.Sub(action.GapStart).Seconds()),
		})
		p.log.Printf("pipeline: overnight gap recorded for %s", deviceID)
	}
}

func (p *Processor) onTripStarted(deviceID string, action statemachine.Action, tracker *motiondata.TrackerState) {
	trip := action.StartedTrip
	odometer.StartTrip(tracker)
	row := tripstore.TripFromContext(trip, deviceID)
	if err := tripstore.RecordTrip(p.db, row); err != nil {
		p.log.Printf("pipeline: failed recording new trip %s: %v", trip.TripID, err)
	}
	tracker.TotalTripsCount++
	p.pub.TripStarted(motiondata.TripStarted{
		TripID:        trip.TripID,
		DeviceID:      deviceID,
		StartTime:     trip.StartTime,
		StartLocation: motiondata.NewGeoPoint(trip.StartLat, trip.StartLon),
		CurrentState:  motiondata.StateMoving,
		Odometer:      tracker.DisplayOdometer(),
		Metadata:      trip.Metadata,
	})
}

func (p *Processor) onTripClosed(action statemachine.Action, tracker *motiondata.TrackerState, persist bool) {
	ct := action.CompletedTrip
	distance := ct.FinalDistance()
	if tracker.TripOdometerStart != nil {
		distance = odometer.TripDistance(tracker)
	}
	odometer.EndTrip(tracker)

	row := tripstore.TripFromContext(&ct.Trip, tracker.DeviceID)
	endTime := ct.EndTime
	row.EndTime = &endTime
	row.EndLat = &ct.EndLat
	row.EndLon = &ct.EndLon
	row.DistanceM = distance
	row.MaxSpeedKmh = ct.Trip.MaxSpeed
	row.StopsCount = ct.Trip.StopsCount

	if !persist {
		if err := tripstore.DeleteTrip(p.db, ct.Trip.TripID); err != nil {
			p.log.Printf("pipeline: failed discarding trip %s: %v", ct.Trip.TripID, err)
		}
		if err := tripstore.DeleteStopsForTrip(p.db, ct.Trip.TripID); err != nil {
			p.log.Printf("pipeline: failed discarding stops for trip %s: %v", ct.Trip.TripID, err)
		}
		return
	}

	q := quality.Analyze(&ct.Trip, ct.EndLat, ct.EndLon)
	row.GPSNoisePercent = q.GPSNoisePercentage
	row.QualityFlag = string(q.Flag)

	if err := tripstore.RecordTrip(p.db, row); err != nil {
		p.log.Printf("pipeline: failed closing trip %s: %v", ct.Trip.TripID, err)
	}

	duration := ct.DurationSeconds()
	tracker.TotalDrivingTime += int(duration)

	p.pub.TripCompleted(motiondata.TripCompleted{
		TripID:        ct.Trip.TripID,
		DeviceID:      tracker.DeviceID,
		StartTime:     ct.Trip.StartTime,
		StartLocation: motiondata.NewGeoPoint(ct.Trip.StartLat, ct.Trip.StartLon),
		Odometer:      tracker.DisplayOdometer(),
		Metadata:      ct.Trip.Metadata,
		EndTime:       ct.EndTime,
		DurationSecs:  duration,
		DistanceM:     distance,
		MaxSpeed:      ct.Trip.MaxSpeed,
		StopsCount:    ct.Trip.StopsCount,
		EndLocation:   motiondata.NewGeoPoint(ct.EndLat, ct.EndLon),
		CurrentState:  ct.CurrentState,
		Quality:       &q,
	})
}

func (p *Processor) onStopStarted(deviceID string, action statemachine.Action, tracker *motiondata.TrackerState) {
	stop := action.StartedStop
	row := tripstore.StopFromContext(stop, deviceID)
	if err := tripstore.RecordStop(p.db, row); err != nil {
		p.log.Printf("pipeline: failed recording new stop %s: %v", stop.StopID, err)
	}
	tracker.TotalStopsCount++
	p.pub.StopStarted(motiondata.StopStarted{
		StopID:       stop.StopID,
		TripID:       stop.TripID,
		DeviceID:     deviceID,
		StartTime:    stop.StartTime,
		Location:     motiondata.NewGeoPoint(stop.StartLat, stop.StartLon),
		Reason:       stop.Reason,
		CurrentState: motiondata.StateIdle,
		Odometer:     tracker.DisplayOdometer(),
		Metadata:     stop.Metadata,
	})
}

func (p *Processor) onStopClosed(deviceID string, action statemachine.Action) {
	cs := action.CompletedStop
	row := tripstore.StopFromContext(&cs.Stop, deviceID)
	row.EndTime = &cs.EndTime
	if err := tripstore.RecordStop(p.db, row); err != nil {
		p.log.Printf("pipeline: failed closing stop %s: %v", cs.Stop.StopID, err)
	}
	p.pub.StopCompleted(motiondata.StopCompleted{
		StopID:       cs.Stop.StopID,
		TripID:       cs.Stop.TripID,
		DeviceID:     deviceID,
		StartTime:    cs.Stop.StartTime,
		Location:     motiondata.NewGeoPoint(cs.Stop.StartLat, cs.Stop.StartLon),
		Reason:       cs.Stop.Reason,
		Metadata:     cs.Stop.Metadata,
		EndTime:      cs.EndTime,
		DurationSecs: cs.DurationSeconds(),
	})
}
