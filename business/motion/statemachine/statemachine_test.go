package statemachine

import (
	"math"
	"testing"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

func ignition(on bool) *bool { return &on }

func newStep(deviceID string, tsMs int64, lat, lon, speed float64, ign bool) motiondata.Sample {
	return motiondata.Sample{
		DeviceID:  deviceID,
		Timestamp: tsMs,
		Latitude:  lat,
		Longitude: lon,
		Speed:     speed,
		Ignition:  ignition(ign),
	}
}

type driver struct {
	state *motiondata.DeviceState
	cfg   Config
	idGen IDGenerator
}

func newDriver(deviceID string, cfg Config) *driver {
	return &driver{state: motiondata.NewDeviceState(deviceID), cfg: cfg, idGen: DefaultIDGenerator{}}
}

func (d *driver) step(sample motiondata.Sample) Result {
	result := Advance(d.state, sample, sample.IgnitionOn(false), d.cfg, d.idGen)
	d.state = result.State
	return result
}

func countActions(results []Result, kind ActionKind) int {
	n := 0
	for _, r := range results {
		for _, a := range r.Actions {
			if a.Kind == kind {
				n++
			}
		}
	}
	return n
}

// scenario 1: happy-path trip long enough to clear minTripDuration.
func TestHappyPathTrip(t *testing.T) {
	cfg := DefaultConfig()
	d := newDriver("D1", cfg)

	lat, lon := -31.4200, -64.1880
	var results []Result

	// first sample: stationary, ignition on.
	results = append(results, d.step(newStep("D1", 0, lat, lon, 0, true)))

	// 14 samples at 5s intervals, moving ~30-60 km/h roughly north-east.
	for i := 1; i <= 14; i++ {
		lat += 0.0003
		lon += 0.0003
		results = append(results, d.step(newStep("D1", int64(i)*5000, lat, lon, 45, true)))
	}

	// final sample: ignition off. Per the transition table the trip stays
	// open across the stop; it only closes on a later qualifying resume or
	// via the orphan reaper, so no end/discard action fires here.
	finalTs := int64(15) * 5000
	tripID := d.state.ActiveTrip.TripID
	distanceBeforeStop := d.state.ActiveTrip.Distance
	results = append(results, d.step(newStep("D1", finalTs, lat, lon, 0, false)))

	if got := countActions(results, ActionStartTrip); got != 1 {
		t.Fatalf("ActionStartTrip count = %d, want 1", got)
	}
	if got := countActions(results, ActionEndTrip) + countActions(results, ActionDiscardTrip); got != 0 {
		t.Fatalf("trip should remain open across the stop, got %d close actions", got)
	}
	if got := countActions(results, ActionStartStop); got != 1 {
		t.Fatalf("expected the ignition-off sample to open a stop, got %d", got)
	}

	if d.state.ActiveTrip == nil {
		t.Fatalf("expected the trip to remain active after ignition off pending resume/reaper")
	}
	if d.state.ActiveTrip.TripID != tripID {
		t.Fatalf("trip id changed across the stop: before=%s after=%s", tripID, d.state.ActiveTrip.TripID)
	}
	if d.state.ActiveTrip.Distance < distanceBeforeStop {
		t.Fatalf("accumulated trip distance regressed: before=%v after=%v", distanceBeforeStop, d.state.ActiveTrip.Distance)
	}
	if d.state.ActiveStop == nil {
		t.Fatalf("expected an active stop after ignition off")
	}
	if d.state.State != motiondata.StateStopped {
		t.Fatalf("expected STOPPED after ignition off, got %s", d.state.State)
	}

	// a later resume after a long-enough stop closes the original trip and
	// opens a new one.
	resumeTs := finalTs + int64(cfg.MinStopDurationSec)*1000 + 5000
	resumeLat, resumeLon := lat+0.0003, lon+0.0003
	resumeResult := d.step(newStep("D1", resumeTs, resumeLat, resumeLon, 40, true))

	endTripCount := countActions([]Result{resumeResult}, ActionEndTrip)
	discardCount := countActions([]Result{resumeResult}, ActionDiscardTrip)
	if endTripCount+discardCount != 1 {
		t.Fatalf("expected exactly one trip close action on resume, got end=%d discard=%d", endTripCount, discardCount)
	}
	if endTripCount != 1 {
		t.Fatalf("trip should have been long/far enough to persist, got discard instead")
	}
	if got := countActions([]Result{resumeResult}, ActionStartTrip); got != 1 {
		t.Fatalf("expected a new trip to start on resume, got %d", got)
	}
	if d.state.ActiveTrip == nil || d.state.ActiveTrip.TripID == tripID {
		t.Fatalf("expected a new trip id after resume, got %+v", d.state.ActiveTrip)
	}
}

// scenario 2: GPS noise while parked never opens a trip.
func TestGPSNoiseWhileParked(t *testing.T) {
	cfg := DefaultConfig()
	d := newDriver("D2", cfg)

	centerLat, centerLon := -34.6037, -58.3816
	var results []Result
	for i := 0; i < 60; i++ {
		// jitter within ~15m, well under the 30m circle described by the scenario.
		jitterLat := centerLat + 0.00005*math.Sin(float64(i))
		jitterLon := centerLon + 0.00005*math.Cos(float64(i))
		speed := float64(i % 3) // 0,1,2 km/h
		results = append(results, d.step(newStep("D2", int64(i)*1000, jitterLat, jitterLon, speed, true)))
	}

	if got := countActions(results, ActionStartTrip); got != 0 {
		t.Fatalf("ActionStartTrip count = %d, want 0", got)
	}
	if d.state.State != motiondata.StateIdle {
		t.Fatalf("expected IDLE while parked with ignition on, got %s", d.state.State)
	}
}

// scenario 3: an impossible jump is rejected by the validator but never
// crashes the state machine.
func TestImpossibleJump(t *testing.T) {
	cfg := DefaultConfig()
	d := newDriver("D3", cfg)

	d.step(newStep("D3", 0, -31.42, -64.18, 40, true))
	// moving so first sample opens a trip; this keeps ActiveTrip non-nil so
	// the jump exercises accumulateDistance.
	before := d.state.ActiveTrip.Distance

	result := d.step(newStep("D3", 1000, -31.00, -64.00, 40, true)) // ~50km in 1s
	_ = result

	if d.state.ActiveTrip == nil {
		t.Fatalf("expected trip to remain active across an impossible segment")
	}
	if d.state.ActiveTrip.Distance != before {
		t.Fatalf("impossible segment should not have contributed distance: before=%v after=%v", before, d.state.ActiveTrip.Distance)
	}
}

// scenario 4: a short ignition-off blip does not split the trip.
func TestShortStopContinuesTrip(t *testing.T) {
	cfg := DefaultConfig()
	d := newDriver("D4", cfg)

	d.step(newStep("D4", 0, -31.4200, -64.1880, 40, true))
	tripID := d.state.ActiveTrip.TripID

	d.step(newStep("D4", 5000, -31.4230, -64.1910, 40, true))
	// ignition off for 120s (< minStopDurationSec=300)
	d.step(newStep("D4", 10000, -31.4235, -64.1915, 0, false))
	result := d.step(newStep("D4", 10000+120000, -31.4235, -64.1915, 40, true))

	if d.state.ActiveTrip == nil {
		t.Fatalf("expected trip to still be active after a short stop")
	}
	if d.state.ActiveTrip.TripID != tripID {
		t.Fatalf("trip id changed across a short stop: before=%s after=%s", tripID, d.state.ActiveTrip.TripID)
	}
	if got := countActions([]Result{result}, ActionStartTrip); got != 0 {
		t.Fatalf("short stop should not start a new trip, got %d ActionStartTrip", got)
	}
	if d.state.ActiveTrip.StopsCount != 1 {
		t.Fatalf("StopsCount = %d, want 1", d.state.ActiveTrip.StopsCount)
	}
}

// scenario 5: a long ignition-off period splits the trip into two.
func TestLongStopSplitsTrip(t *testing.T) {
	cfg := DefaultConfig()
	d := newDriver("D5", cfg)

	d.step(newStep("D5", 0, -31.4200, -64.1880, 40, true))
	firstTripID := d.state.ActiveTrip.TripID

	d.step(newStep("D5", 5000, -31.4230, -64.1910, 40, true))
	d.step(newStep("D5", 10000, -31.4235, -64.1915, 0, false))
	// ignition off for 600s (>= minStopDurationSec=300)
	result := d.step(newStep("D5", 10000+600000, -31.4240, -64.1920, 40, true))

	if got := countActions([]Result{result}, ActionEndTrip)+countActions([]Result{result}, ActionDiscardTrip); got != 1 {
		t.Fatalf("expected the first trip to close, got %d close actions", got)
	}
	if got := countActions([]Result{result}, ActionStartTrip); got != 1 {
		t.Fatalf("expected a new trip to start, got %d", got)
	}
	if d.state.ActiveTrip == nil || d.state.ActiveTrip.TripID == firstTripID {
		t.Fatalf("expected a new trip id after a long stop, got %+v", d.state.ActiveTrip)
	}
}

func TestVersionStrictlyIncreasing(t *testing.T) {
	cfg := DefaultConfig()
	d := newDriver("D6", cfg)
	var last uint64
	for i := 0; i < 10; i++ {
		result := d.step(newStep("D6", int64(i)*5000, -31.42, -64.18, float64(i), true))
		if result.State.Version <= last {
			t.Fatalf("version did not strictly increase: prev=%d got=%d", last, result.State.Version)
		}
		last = result.State.Version
	}
}

func TestMaxIdleDurationClosesTripWithoutClosingStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIdleDurationSec = 60 // shrink for the test
	d := newDriver("D7", cfg)

	d.step(newStep("D7", 0, -31.4200, -64.1880, 40, true))
	// 35s later, outside the 30s rolling window, so avg30 reflects only the
	// new zero-speed reading and the classifier moves to IDLE.
	d.step(newStep("D7", 35000, -31.4201, -64.1881, 0, true))
	if d.state.State != motiondata.StateIdle {
		t.Fatalf("expected IDLE, got %s", d.state.State)
	}
	if d.state.ActiveTrip == nil {
		t.Fatalf("expected trip still active right after entering idle")
	}

	// stay idle past MaxIdleDurationSec
	result := d.step(newStep("D7", 35000+70000, -31.4201, -64.1881, 0, true))

	if got := countActions([]Result{result}, ActionEndTrip)+countActions([]Result{result}, ActionDiscardTrip); got != 1 {
		t.Fatalf("expected the trip to close after sustained idle, got %d", got)
	}
	if d.state.ActiveTrip != nil {
		t.Fatalf("expected no active trip after sustained idle closes it")
	}
	if d.state.ActiveStop == nil {
		t.Fatalf("sustained idle must not close the stop")
	}
}

func TestDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	samples := []motiondata.Sample{
		newStep("D8", 0, -31.4200, -64.1880, 0, true),
		newStep("D8", 5000, -31.4230, -64.1910, 40, true),
		newStep("D8", 10000, -31.4260, -64.1940, 40, true),
	}

	run := func() (motiondata.State, uint64, int) {
		d := newDriver("D8", cfg)
		var actionCount int
		for _, s := range samples {
			result := d.step(s)
			actionCount += len(result.Actions)
		}
		return d.state.State, d.state.Version, actionCount
	}

	state1, version1, actions1 := run()
	state2, version2, actions2 := run()

	if state1 != state2 || version1 != version2 || actions1 != actions2 {
		t.Fatalf("identical input sequences produced different results: (%v,%v,%v) vs (%v,%v,%v)",
			state1, version1, actions1, state2, version2, actions2)
	}
}

func TestGapOpensOvernightSignal(t *testing.T) {
	cfg := DefaultConfig()
	d := newDriver("D9", cfg)

	d.step(newStep("D9", 0, -31.4200, -64.1880, 40, true))
	gapMs := int64(cfg.MaxOvernightGapDurationSec)*1000 + 5000
	result := d.step(newStep("D9", gapMs, -31.4200, -64.1880, 0, true))

	if got := countActions([]Result{result}, ActionOvernightGap); got != 1 {
		t.Fatalf("expected an overnight gap signal, got %d", got)
	}
}
