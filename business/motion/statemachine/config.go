package statemachine

import "time"

// Config holds every threshold the motion state machine consults, each
// overridable per spec section 4.2.
type Config struct {
	MinMovingSpeedKmh  float64
	MinTripDistanceM   float64
	MinTripDurationSec int
	MinStopDurationSec int
	MaxGapDurationSec  int
	MaxOvernightGapDurationSec int
	OrphanTripTimeoutSec       int
	MaxIdleDurationSec         int
}

// DefaultConfig returns the defaults listed in spec section 4.2.
func DefaultConfig() Config {
	return Config{
		MinMovingSpeedKmh:          5,
		MinTripDistanceM:           100,
		MinTripDurationSec:         60,
		MinStopDurationSec:         300,
		MaxGapDurationSec:          600,
		MaxOvernightGapDurationSec: 1800,
		OrphanTripTimeoutSec:       1800,
		MaxIdleDurationSec:         1800,
	}
}

func (c Config) minTripDuration() time.Duration {
	return time.Duration(c.MinTripDurationSec) * time.Second
}

func (c Config) minStopDuration() time.Duration {
	return time.Duration(c.MinStopDurationSec) * time.Second
}

func (c Config) maxGapDuration() time.Duration {
	return time.Duration(c.MaxGapDurationSec) * time.Second
}

func (c Config) maxOvernightGapDuration() time.Duration {
	return time.Duration(c.MaxOvernightGapDurationSec) * time.Second
}

func (c Config) maxIdleDuration() time.Duration {
	return time.Duration(c.MaxIdleDurationSec) * time.Second
}
