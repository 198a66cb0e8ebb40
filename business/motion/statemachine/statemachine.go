// Package statemachine implements the per-device motion state machine (spec
// section 4.2): a pure function that, given the previous hot state and a new
// sample, decides the device's new motion state and which trips/stops to
// open, continue or close.
package statemachine

import (
	"time"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/fleetsignal/motiontrack/business/motion/validator"
)

// Advance runs one sample through the state machine. ignitionOn is the
// already-resolved ignition reading (the caller applies the
// last-known-ignition fallback from tracker state before calling Advance, per
// spec section 4.6); prev must never be mutated by the caller afterward — a
// cloned copy is returned in Result.State.
func Advance(prev *motiondata.DeviceState, sample motiondata.Sample, ignitionOn bool, cfg Config, idGen IDGenerator) Result {
	if idGen == nil {
		idGen = DefaultIDGenerator{}
	}

	state := prev.Clone()
	now := sample.Time()
	hasIgnitionSignal := sample.Ignition != nil

	// Gap handling takes priority over ordinary classification (spec section
	// 4.2 "Gap handling"): a silent tracker restarts as if this were its
	// first sample.
	if state.State != motiondata.StateUnknown && !state.LastSample.Time().IsZero() {
		gap := now.Sub(state.LastSample.Time())
		if gap > cfg.maxGapDuration() {
			return advanceAfterGap(state, sample, now, gap, ignitionOn, hasIgnitionSignal, cfg, idGen)
		}
	}

	prevSample := state.LastSample
	hadPriorSample := state.State != motiondata.StateUnknown
	state.PositionBuffer.Push(sample)

	avg30, _, _ := state.SpeedAverages(now)
	classified := classify(ignitionOn, sample.Speed, avg30, cfg.MinMovingSpeedKmh, state.State)

	var actions []Action
	var previousTrip *CompletedTrip

	switch {
	case state.State == motiondata.StateUnknown:
		actions = openInitialState(state, sample, now, classified, hasIgnitionSignal, "", idGen)

	case (state.State == motiondata.StateStopped || state.State == motiondata.StateIdle) && classified == motiondata.StateMoving:
		actions, previousTrip = transitionToMoving(state, sample, now, hasIgnitionSignal, cfg, idGen)

	case state.State == motiondata.StateMoving && classified == motiondata.StateStopped:
		actions = append(actions, startStopAction(state, sample, now, motiondata.StopReasonIgnitionOff, idGen))

	case state.State == motiondata.StateMoving && classified == motiondata.StateIdle:
		actions = append(actions, startStopAction(state, sample, now, motiondata.StopReasonNoMovement, idGen))

	case state.State == motiondata.StateIdle && classified == motiondata.StateStopped:
		actions = append(actions, endStopAction(state, now))
		actions = append(actions, startStopAction(state, sample, now, motiondata.StopReasonIgnitionOff, idGen))

	case state.State == motiondata.StateStopped && classified == motiondata.StateIdle:
		actions = append(actions, endStopAction(state, now))
		actions = append(actions, startStopAction(state, sample, now, motiondata.StopReasonNoMovement, idGen))

	case classified == motiondata.StateIdle && state.State == motiondata.StateIdle:
		if sustained := now.Sub(state.StateSince); sustained >= cfg.maxIdleDuration() && state.ActiveTrip != nil {
			ct := closeTrip(state.ActiveTrip, now, sample.Latitude, sample.Longitude, cfg, classified, "max_idle")
			actions = append(actions, Action{Kind: actionKindFor(ct), CompletedTrip: ct})
			previousTrip = ct
			state.ActiveTrip = nil
			// the stop is left open deliberately (spec section 4.2).
		}

	default:
		// classified == state.State for MOVING or STOPPED: no structural
		// action beyond distance accumulation below.
	}

	// Distance accumulation (spec section 4.2 "Distance accumulation"): runs
	// on every sample with an active trip that isn't brand new this round.
	if state.ActiveTrip != nil && hadPriorSample && actionsOpenedTripThisRound(actions) == false {
		accumulateDistance(state.ActiveTrip, prevSample, sample)
	}

	state.State = classified
	if classified != prev.State {
		state.StateSince = now
	}
	state.LastSample = sample
	state.Version++

	return Result{State: state, Actions: actions, PreviousTrip: previousTrip}
}

func actionsOpenedTripThisRound(actions []Action) bool {
	for _, a := range actions {
		if a.Kind == ActionStartTrip {
			return true
		}
	}
	return false
}

// classify implements the ignition-first sample classifier of spec section
// 4.2, including its anti-flap rule: on disagreement between instantaneous
// and 30s-average speed, retain the current state.
func classify(ignitionOn bool, speed, avg30, minMovingSpeed float64, current motiondata.State) motiondata.State {
	if !ignitionOn {
		return motiondata.StateStopped
	}
	movingByCurrent := speed >= minMovingSpeed
	movingByAvg := avg30 >= minMovingSpeed

	switch {
	case movingByCurrent && movingByAvg:
		return motiondata.StateMoving
	case !movingByCurrent && !movingByAvg:
		return motiondata.StateIdle
	case current == motiondata.StateUnknown:
		return motiondata.StateIdle
	default:
		return current
	}
}

// openInitialState handles both the true first sample for a device and the
// restart-as-first-sample step after a gap.
func openInitialState(state *motiondata.DeviceState, sample motiondata.Sample, now time.Time,
	classified motiondata.State, hasIgnitionSignal bool, tripIDIfContinuing string, idGen IDGenerator) []Action {

	switch classified {
	case motiondata.StateMoving:
		trip := openTrip(state.DeviceID, sample, now, hasIgnitionSignal, idGen)
		state.ActiveTrip = trip
		return []Action{{Kind: ActionStartTrip, StartedTrip: trip}}
	default:
		reason := motiondata.StopReasonIgnitionOff
		if classified == motiondata.StateIdle {
			reason = motiondata.StopReasonNoMovement
		}
		stop := openStop(state.DeviceID, sample, now, reason, "", idGen)
		state.ActiveStop = stop
		return []Action{{Kind: ActionStartStop, StartedStop: stop}}
	}
}

// transitionToMoving implements the "STOPPED/IDLE -> MOVING" row of spec
// section 4.2's transition table.
func transitionToMoving(state *motiondata.DeviceState, sample motiondata.Sample, now time.Time,
	hasIgnitionSignal bool, cfg Config, idGen IDGenerator) ([]Action, *CompletedTrip) {

	var actions []Action
	var previousTrip *CompletedTrip

	var stopStart time.Time
	var stopLat, stopLon float64
	if state.ActiveStop != nil {
		stopStart = state.ActiveStop.StartTime
		stopLat, stopLon = state.ActiveStop.StartLat, state.ActiveStop.StartLon
		actions = append(actions, endStopAction(state, now))
	}

	if state.ActiveTrip == nil {
		trip := openTrip(state.DeviceID, sample, now, hasIgnitionSignal, idGen)
		state.ActiveTrip = trip
		actions = append(actions, Action{Kind: ActionStartTrip, StartedTrip: trip})
		return actions, previousTrip
	}

	stopDuration := now.Sub(stopStart)
	if stopDuration >= cfg.minStopDuration() {
		// The trip ended the moment the vehicle actually stopped, not when
		// this resume sample happened to arrive.
		ct := closeTrip(state.ActiveTrip, stopStart, stopLat, stopLon, cfg, motiondata.StateMoving, "transition")
		actions = append(actions, Action{Kind: actionKindFor(ct), CompletedTrip: ct})
		previousTrip = ct
		state.ActiveTrip = nil

		trip := openTrip(state.DeviceID, sample, now, hasIgnitionSignal, idGen)
		state.ActiveTrip = trip
		actions = append(actions, Action{Kind: ActionStartTrip, StartedTrip: trip})
		return actions, previousTrip
	}

	// The stop was too short to split the trip: continue the existing trip.
	state.ActiveTrip.StopsCount++
	return actions, previousTrip
}

// advanceAfterGap implements spec section 4.2's gap handler.
func advanceAfterGap(state *motiondata.DeviceState, sample motiondata.Sample, now time.Time, gap time.Duration,
	ignitionOn, hasIgnitionSignal bool, cfg Config, idGen IDGenerator) Result {

	var actions []Action
	var previousTrip *CompletedTrip

	lastKnown := state.LastSample
	stopDuration := gap
	isOvernight := gap >= cfg.maxOvernightGapDuration()

	if state.ActiveTrip != nil && (stopDuration >= cfg.minStopDuration() || isOvernight) {
		ct := closeTrip(state.ActiveTrip, lastKnown.Time(), lastKnown.Latitude, lastKnown.Longitude, cfg,
			motiondata.StateUnknown, "gap")
		actions = append(actions, Action{Kind: actionKindFor(ct), CompletedTrip: ct})
		previousTrip = ct
		state.ActiveTrip = nil
	}

	if state.ActiveStop != nil {
		actions = append(actions, endStopAction(state, lastKnown.Time()))
	}

	// A gap invalidates the rolling speed history; start the buffer fresh.
	state.PositionBuffer = motiondata.NewPositionBuffer()
	state.PositionBuffer.Push(sample)

	if isOvernight {
		actions = append(actions, Action{Kind: ActionOvernightGap, GapStart: lastKnown.Time(), GapEnd: now})
	}

	avg30, _, _ := state.SpeedAverages(now)
	classified := classify(ignitionOn, sample.Speed, avg30, cfg.MinMovingSpeedKmh, motiondata.StateUnknown)

	if state.ActiveTrip != nil {
		// The trip survived the gap (it was short of the close threshold):
		// carry it forward rather than opening a new one.
		switch classified {
		case motiondata.StateMoving:
			// nothing further to open; trip continues.
		default:
			reason := motiondata.StopReasonIgnitionOff
			if classified == motiondata.StateIdle {
				reason = motiondata.StopReasonNoMovement
			}
			stop := openStop(state.DeviceID, sample, now, reason, state.ActiveTrip.TripID, idGen)
			state.ActiveStop = stop
			actions = append(actions, Action{Kind: ActionStartStop, StartedStop: stop})
		}
	} else {
		actions = append(actions, openInitialState(state, sample, now, classified, hasIgnitionSignal, "", idGen)...)
	}

	state.State = classified
	state.StateSince = now
	state.LastSample = sample
	state.Version++

	return Result{State: state, Actions: actions, PreviousTrip: previousTrip}
}

func actionKindFor(ct *CompletedTrip) ActionKind {
	if ct.Persist {
		return ActionEndTrip
	}
	return ActionDiscardTrip
}

func openTrip(deviceID string, sample motiondata.Sample, now time.Time, hasIgnitionSignal bool, idGen IDGenerator) *motiondata.TripContext {
	return &motiondata.TripContext{
		TripID:    idGen.NewTripID(deviceID, sample.Timestamp),
		StartTime: now,
		StartLat:  sample.Latitude,
		StartLon:  sample.Longitude,
		Metadata:  sample.Metadata,
	}
}

func openStop(deviceID string, sample motiondata.Sample, now time.Time, reason motiondata.StopReason, tripID string, idGen IDGenerator) *motiondata.StopContext {
	return &motiondata.StopContext{
		StopID:    idGen.NewStopID(deviceID, sample.Timestamp),
		TripID:    tripID,
		StartTime: now,
		StartLat:  sample.Latitude,
		StartLon:  sample.Longitude,
		Reason:    reason,
		Metadata:  sample.Metadata,
	}
}

func startStopAction(state *motiondata.DeviceState, sample motiondata.Sample, now time.Time, reason motiondata.StopReason, idGen IDGenerator) Action {
	tripID := ""
	if state.ActiveTrip != nil {
		tripID = state.ActiveTrip.TripID
	}
	stop := openStop(state.DeviceID, sample, now, reason, tripID, idGen)
	state.ActiveStop = stop
	return Action{Kind: ActionStartStop, StartedStop: stop}
}

func endStopAction(state *motiondata.DeviceState, now time.Time) Action {
	stop := state.ActiveStop
	state.ActiveStop = nil
	return Action{Kind: ActionEndStop, CompletedStop: &CompletedStop{Stop: *stop, EndTime: now}}
}

// closeTrip decides whether ctx is persisted (endTrip) or discarded
// (discardTrip) per spec section 4.2's end-of-trip policy.
func closeTrip(ctx *motiondata.TripContext, endTime time.Time, endLat, endLon float64, cfg Config,
	currentState motiondata.State, closedBy string) *CompletedTrip {

	ct := &CompletedTrip{
		Trip:         *ctx,
		EndTime:      endTime,
		EndLat:       endLat,
		EndLon:       endLon,
		CurrentState: currentState,
		ClosedBy:     closedBy,
	}
	duration := endTime.Sub(ctx.StartTime)
	ct.Persist = duration >= cfg.minTripDuration() && ctx.Distance >= cfg.MinTripDistanceM
	return ct
}

// accumulateDistance runs the segment validator between prevSample and
// sample and folds the result into ctx, per spec section 4.2.
func accumulateDistance(ctx *motiondata.TripContext, prevSample, sample motiondata.Sample) {
	result := validator.ValidateSegment(prevSample, sample, ctx)
	validator.UpdateTripContext(ctx, sample)

	ctx.SegmentsTotal++
	ctx.OriginalDistance += result.OriginalDistance
	if result.IsValid {
		ctx.Distance += result.AdjustedDistance
		ctx.AdjustedDistance += result.AdjustedDistance
		if result.AdjustedDistance != result.OriginalDistance {
			ctx.SegmentsAdjusted++
		}
		if result.Reason == motiondata.AnomalyGPSNoise {
			ctx.GPSNoiseSegments++
		}
	} else {
		ctx.SegmentsAdjusted++
	}

	if sample.Speed > ctx.MaxSpeed {
		ctx.MaxSpeed = sample.Speed
	}
}
