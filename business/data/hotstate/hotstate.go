// Package hotstate mirrors each device's in-flight DeviceState and
// TrackerState into Redis, per spec section 5's hybrid hot/cold store: the
// pipeline loads both from Redis and saves them back on every sample, so
// Redis holds the working copy, and Postgres (business/data/tripstore) is the
// durable system of record written on the persistence cadence.
package hotstate

import (
	"context"
	"encoding/json"
	"fmt"
	logger "log"
	"time"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/redis/go-redis/v9"
)

const (
	deviceStateKeyPrefix  = "motion:device:"
	trackerStateKeyPrefix = "motion:tracker:"
	throttleKeyPrefix     = "motion:throttle:"

	// DefaultStateTTL is the spec section 4.4 default retention for the hot
	// mirror: generous enough that a device legitimately quiet for days
	// doesn't lose its hot copy before its next sample arrives.
	DefaultStateTTL = 7 * 24 * time.Hour

	// throttleTTL backs the duplicate-delivery guard: a position carrying a
	// timestamp no newer than the last one processed for this device is
	// dropped without being re-run through the state machine.
	throttleTTL = 5 * time.Second
)

// Store is the Redis-backed hot state mirror.
type Store struct {
	log             *logger.Logger
	client          *redis.Client
	deviceStateTTL  time.Duration
	trackerStateTTL time.Duration
}

// New builds a Store around an already-connected redis.Client. A stateTTL of
// zero falls back to DefaultStateTTL.
func New(log *logger.Logger, client *redis.Client, stateTTL time.Duration) *Store {
	if stateTTL == 0 {
		stateTTL = DefaultStateTTL
	}
	return &Store{log: log, client: client, deviceStateTTL: stateTTL, trackerStateTTL: stateTTL}
}

// LoadDeviceState returns the mirrored DeviceState for deviceID, or
// (nil, false, nil) if nothing has been mirrored yet.
func (s *Store) LoadDeviceState(ctx context.Context, deviceID string) (*motiondata.DeviceState, bool, error) {
	raw, err := s.client.Get(ctx, deviceStateKeyPrefix+deviceID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading device state for %s: %w", deviceID, err)
	}
	var state motiondata.DeviceState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("unmarshaling device state for %s: %w", deviceID, err)
	}
	if state.PositionBuffer == nil {
		state.PositionBuffer = motiondata.NewPositionBuffer()
	}
	return &state, true, nil
}

// SaveDeviceState mirrors the given DeviceState to Redis.
func (s *Store) SaveDeviceState(ctx context.Context, state *motiondata.DeviceState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling device state for %s: %w", state.DeviceID, err)
	}
	if err := s.client.Set(ctx, deviceStateKeyPrefix+state.DeviceID, raw, s.deviceStateTTL).Err(); err != nil {
		return fmt.Errorf("saving device state for %s: %w", state.DeviceID, err)
	}
	return nil
}

// LoadTrackerState returns the mirrored TrackerState for deviceID, or
// (nil, false, nil) if none exists yet.
func (s *Store) LoadTrackerState(ctx context.Context, deviceID string) (*motiondata.TrackerState, bool, error) {
	raw, err := s.client.Get(ctx, trackerStateKeyPrefix+deviceID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading tracker state for %s: %w", deviceID, err)
	}
	var ts motiondata.TrackerState
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, false, fmt.Errorf("unmarshaling tracker state for %s: %w", deviceID, err)
	}
	return &ts, true, nil
}

// SaveTrackerState mirrors the given TrackerState to Redis.
func (s *Store) SaveTrackerState(ctx context.Context, ts *motiondata.TrackerState) error {
	raw, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshaling tracker state for %s: %w", ts.DeviceID, err)
	}
	if err := s.client.Set(ctx, trackerStateKeyPrefix+ts.DeviceID, raw, s.trackerStateTTL).Err(); err != nil {
		return fmt.Errorf("saving tracker state for %s: %w", ts.DeviceID, err)
	}
	return nil
}

// ShouldProcess reports whether a sample carrying sampleTs for deviceID is
// newer than the last one this process accepted, per spec section 9's
// resolution that throttling compares the sample's own reported timestamp,
// not wall-clock arrival time. When sampleTs advances the clock it records
// sampleTs as the new high-water mark, with a GET followed by a separate SET.
func (s *Store) ShouldProcess(ctx context.Context, deviceID string, sampleTs time.Time) (bool, error) {
	key := throttleKeyPrefix + deviceID
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("reading throttle key for %s: %w", deviceID, err)
	}
	if err == nil {
		lastMs, parseErr := parseUnixMilli(raw)
		if parseErr == nil && !sampleTs.After(lastMs) {
			return false, nil
		}
	}
	if err := s.client.Set(ctx, key, sampleTs.UnixMilli(), throttleTTL).Err(); err != nil {
		return false, fmt.Errorf("writing throttle key for %s: %w", deviceID, err)
	}
	return true, nil
}

func parseUnixMilli(raw string) (time.Time, error) {
	var ms int64
	if _, err := fmt.Sscanf(raw, "%d", &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
