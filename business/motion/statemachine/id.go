package statemachine

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator mints trip and stop IDs. Spec section 4.2 requires only that
// they be opaque and collision-free; it leaves the exact scheme to the
// implementer.
type IDGenerator interface {
	NewTripID(deviceID string, timestampMs int64) string
	NewStopID(deviceID string, timestampMs int64) string
}

// DefaultIDGenerator mints IDs as deviceID + timestamp + a random suffix,
// the scheme spec section 4.2 names explicitly.
type DefaultIDGenerator struct{}

func (DefaultIDGenerator) NewTripID(deviceID string, timestampMs int64) string {
	return fmt.Sprintf("trip-%s-%d-%s", deviceID, timestampMs, shortSuffix())
}

func (DefaultIDGenerator) NewStopID(deviceID string, timestampMs int64) string {
	return fmt.Sprintf("stop-%s-%d-%s", deviceID, timestampMs, shortSuffix())
}

func shortSuffix() string {
	return uuid.New().String()[:8]
}
