// Package bus publishes motion events over NATS and subscribes to incoming
// position samples, per spec section 6. Subjects are plain strings, one per
// event kind, matching the teacher's one-subject-per-message-type
// convention rather than NATS subject hierarchies.
package bus

import (
	"encoding/json"
	logger "log"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/nats-io/nats.go"
)

const (
	SubjectPositionNew         = "position:new"
	SubjectPositionRejected    = "position:rejected"
	SubjectIgnitionChanged     = "ignition:changed"
	SubjectTripStarted         = "trip:started"
	SubjectTripCompleted       = "trip:completed"
	SubjectStopStarted         = "stop:started"
	SubjectStopCompleted       = "stop:completed"
	SubjectTrackerStateChanged = "tracker:state:changed"
	SubjectOvernightGap        = "tracker:overnight_gap"

	// positionQueueGroup load-balances inbound position samples across every
	// motion-tracker process, the way the teacher load-balances
	// vehicle-monitor-results across aggregator replicas.
	positionQueueGroup = "motion-trackers"
)

// Publisher sends motion events to NATS subjects. Every method logs and
// swallows marshal/publish errors rather than propagating them, matching the
// teacher's event-publishing style: a dropped event must never stall sample
// processing.
type Publisher struct {
	log  *logger.Logger
	conn *nats.Conn
}

// NewPublisher wraps an established NATS connection.
func NewPublisher(log *logger.Logger, conn *nats.Conn) *Publisher {
	return &Publisher{log: log, conn: conn}
}

func (p *Publisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Printf("bus: failed to marshal payload for %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Printf("bus: failed to publish to %s: %v", subject, err)
	}
}

func (p *Publisher) PositionRejected(e motiondata.PositionRejected) { p.publish(SubjectPositionRejected, e) }
func (p *Publisher) IgnitionChanged(e motiondata.IgnitionChanged)   { p.publish(SubjectIgnitionChanged, e) }
func (p *Publisher) TripStarted(e motiondata.TripStarted)           { p.publish(SubjectTripStarted, e) }
func (p *Publisher) TripCompleted(e motiondata.TripCompleted)       { p.publish(SubjectTripCompleted, e) }
func (p *Publisher) StopStarted(e motiondata.StopStarted)           { p.publish(SubjectStopStarted, e) }
func (p *Publisher) StopCompleted(e motiondata.StopCompleted)       { p.publish(SubjectStopCompleted, e) }
func (p *Publisher) TrackerStateChanged(e motiondata.TrackerStateChanged) {
	p.publish(SubjectTrackerStateChanged, e)
}
func (p *Publisher) OvernightGap(e motiondata.OvernightGap) { p.publish(SubjectOvernightGap, e) }

// SubscribePositions subscribes to SubjectPositionNew in the shared
// motion-trackers queue group, so each sample is delivered to exactly one
// motion-tracker process, and delivers every raw message to ch for the caller
// to decode with DecodeSample. It returns the underlying subscription so the
// caller can unsubscribe on shutdown, following the teacher's
// explicit-unsubscribe pattern.
func SubscribePositions(log *logger.Logger, conn *nats.Conn, ch chan *nats.Msg) (*nats.Subscription, error) {
	log.Printf("bus: subscribing to %s in queue group %s", SubjectPositionNew, positionQueueGroup)
	return conn.ChanQueueSubscribe(SubjectPositionNew, positionQueueGroup, ch)
}

// DecodeSample unmarshals a raw position:new message. Applying the
// ignition-fallback rule (spec section 4.6) is the caller's job since it
// needs the device's last-known ignition state, not just the wire payload.
func DecodeSample(msg *nats.Msg) (motiondata.Sample, error) {
	var sample motiondata.Sample
	err := json.Unmarshal(msg.Data, &sample)
	return sample, err
}

// Unsubscribe unsubscribes sub, logging any error, matching the teacher's
// unsubscribe helper.
func Unsubscribe(log *logger.Logger, sub *nats.Subscription, name string) {
	if sub == nil || !sub.IsValid() {
		return
	}
	log.Printf("bus: unsubscribing from %s", name)
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("bus: error unsubscribing from %s: %v", name, err)
	}
}
