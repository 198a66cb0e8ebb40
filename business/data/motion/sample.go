// Package motion holds the wire and hot-state domain types shared by the
// motion state machine, the segment validator, the hot state store and the
// event bus: position samples, motion state, tracker state and the JSON
// payloads published on the event bus.
package motion

import (
	"encoding/json"
	"time"

	"github.com/fleetsignal/motiontrack/business/motion/geo"
)

// Metadata is an opaque, free-form bag forwarded verbatim from a position
// sample to any trip/stop derived from it. It must never influence detection
// logic.
type Metadata map[string]interface{}

// Sample is a single GPS position reading for one device.
type Sample struct {
	DeviceID    string   `json:"deviceId"`
	Timestamp   int64    `json:"timestamp"` // ms since epoch
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Speed       float64  `json:"speed"` // km/h
	Ignition    *bool    `json:"ignition,omitempty"`
	Heading     float64  `json:"heading,omitempty"`
	Altitude    float64  `json:"altitude,omitempty"`
	Accuracy    float64  `json:"accuracy,omitempty"`
	Satellites  int      `json:"satellites,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// Point returns the sample's position as a geo.Point.
func (s Sample) Point() geo.Point {
	return geo.Point{Lat: s.Latitude, Lon: s.Longitude}
}

// Time returns the sample's timestamp as a time.Time in UTC.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// IgnitionOn returns the sample's ignition state, falling back to
// lastKnownIgnition when the sample did not report one.
func (s Sample) IgnitionOn(lastKnownIgnition bool) bool {
	if s.Ignition != nil {
		return *s.Ignition
	}
	return lastKnownIgnition
}

// PositionBufferCapacity is the number of recent positions retained per
// device for noise/quality detection.
const PositionBufferCapacity = 300

// PositionBuffer is a fixed-capacity ring buffer of recent samples, used to
// compute rolling speed averages and to bound memory per device.
type PositionBuffer struct {
	entries []Sample
	start   int
	count   int
}

// NewPositionBuffer creates an empty PositionBuffer with PositionBufferCapacity.
func NewPositionBuffer() *PositionBuffer {
	return &PositionBuffer{entries: make([]Sample, PositionBufferCapacity)}
}

// Push adds a sample, evicting the oldest entry once the buffer is full.
func (b *PositionBuffer) Push(s Sample) {
	if b.count < len(b.entries) {
		b.entries[(b.start+b.count)%len(b.entries)] = s
		b.count++
		return
	}
	b.entries[b.start] = s
	b.start = (b.start + 1) % len(b.entries)
}

// Len returns the number of samples currently held.
func (b *PositionBuffer) Len() int {
	return b.count
}

// Recent returns samples in chronological order (oldest first).
func (b *PositionBuffer) Recent() []Sample {
	out := make([]Sample, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.start+i)%len(b.entries)]
	}
	return out
}

// SpeedAverage returns the mean reported speed of samples whose timestamp
// falls within window of asOf, and the count of samples considered.
func (b *PositionBuffer) SpeedAverage(asOf time.Time, window time.Duration) (avg float64, count int) {
	cutoff := asOf.Add(-window)
	var sum float64
	for i := 0; i < b.count; i++ {
		s := b.entries[(b.start+i)%len(b.entries)]
		if s.Time().Before(cutoff) {
			continue
		}
		sum += s.Speed
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

// MarshalJSON serializes the buffer as its chronological contents, since the
// ring-buffer bookkeeping (start/count offsets) is an implementation detail
// that would otherwise break across a save/load round trip through the hot
// state store.
func (b *PositionBuffer) MarshalJSON() ([]byte, error) {
	if b == nil {
		return json.Marshal([]Sample{})
	}
	return json.Marshal(b.Recent())
}

// UnmarshalJSON rebuilds the ring buffer from its chronological contents.
func (b *PositionBuffer) UnmarshalJSON(data []byte) error {
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return err
	}
	fresh := NewPositionBuffer()
	for _, s := range samples {
		fresh.Push(s)
	}
	*b = *fresh
	return nil
}
