// Package dispatch fans samples out across devices while keeping each
// device's samples strictly ordered, per spec section 4.3: one goroutine per
// active device processes its own channel in FIFO order, so two devices
// never block each other but a single device's history is never reordered.
package dispatch

import (
	logger "log"
	"sync"
	"sync/atomic"
	"time"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

// Handler is invoked once per sample, in order, from the single goroutine
// that owns sample.DeviceID. It must not be called concurrently for the same
// device; Dispatcher guarantees this.
type Handler func(sample motiondata.Sample)

const (
	deviceQueueCapacity = 256

	// queueTimeout and sweepInterval implement spec section 4.3's eviction
	// policy: a device's worker is torn down after it has gone this long
	// without a new sample, checked on this cadence.
	queueTimeout  = 10 * time.Minute
	sweepInterval = 5 * time.Minute

	// slowTaskThreshold flags a single handler invocation as slow, per spec
	// section 4.3.
	slowTaskThreshold = 200 * time.Millisecond

	// backpressureThreshold is the per-device queue depth spec section 5
	// warns on.
	backpressureThreshold = 10

	// metricsInterval is how often the enqueued-per-minute counter is
	// snapshotted and logged.
	metricsInterval = time.Minute
)

// Dispatcher owns one buffered channel and goroutine per device seen so far,
// starting lazily on first sample and stopping on Shutdown.
type Dispatcher struct {
	log     *logger.Logger
	handler Handler

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup

	enqueuedTotal      int64 // atomic, cumulative
	lastMinuteEnqueued int64 // atomic, snapshotted by the metrics loop

	stopBackground chan struct{}
	bgWG           sync.WaitGroup
}

type worker struct {
	queue chan motiondata.Sample
	done  chan struct{}

	// lastActivity is the unix-nano time of the worker's last enqueue,
	// updated by the producer side; read by the eviction sweep.
	lastActivity int64
}

// Metrics reports the instrumentation spec section 4.3 requires of the
// dispatcher.
type Metrics struct {
	ActiveDevices          int
	EnqueuedLastMinute     int64
	LargestBacklog         int
	DevicesWithBacklogOver5 int
}

// New creates a Dispatcher that calls handler for every dispatched sample
// and starts its background eviction/metrics loop.
func New(log *logger.Logger, handler Handler) *Dispatcher {
	d := &Dispatcher{
		log:            log,
		handler:        handler,
		workers:        make(map[string]*worker),
		stopBackground: make(chan struct{}),
	}
	d.bgWG.Add(1)
	go d.runBackground()
	return d
}

// Dispatch enqueues sample onto its device's worker, starting the worker if
// this is the first sample seen for that device. It never blocks the caller
// on another device's backlog.
func (d *Dispatcher) Dispatch(sample motiondata.Sample) {
	w := d.workerFor(sample.DeviceID)
	select {
	case w.queue <- sample:
		atomic.StoreInt64(&w.lastActivity, time.Now().UnixNano())
		atomic.AddInt64(&d.enqueuedTotal, 1)
		if backlog := len(w.queue); backlog > backpressureThreshold {
			d.log.Printf("dispatch: backpressure warning for device %s: queue depth %d exceeds %d",
				sample.DeviceID, backlog, backpressureThreshold)
		}
	case <-w.done:
		// worker was shut down or evicted between workerFor and send; drop
		// the sample rather than block forever.
		d.log.Printf("dispatch: dropped sample for %s on shutdown/eviction", sample.DeviceID)
	}
}

// workerFor returns the worker for deviceID, creating and starting it if
// this is the first time the device has been seen by this process.
func (d *Dispatcher) workerFor(deviceID string) *worker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if w, ok := d.workers[deviceID]; ok {
		return w
	}

	w := &worker{
		queue:        make(chan motiondata.Sample, deviceQueueCapacity),
		done:         make(chan struct{}),
		lastActivity: time.Now().UnixNano(),
	}
	d.workers[deviceID] = w
	d.wg.Add(1)
	go d.run(deviceID, w)
	return w
}

func (d *Dispatcher) run(deviceID string, w *worker) {
	defer d.wg.Done()
	defer close(w.done)
	for sample := range w.queue {
		start := time.Now()
		d.handler(sample)
		if elapsed := time.Since(start); elapsed > slowTaskThreshold {
			d.log.Printf("dispatch: slow task for device %s took %s", deviceID, elapsed)
		}
	}
}

// runBackground drives the eviction sweep (every sweepInterval) and the
// enqueued-per-minute metrics snapshot (every metricsInterval) until
// Shutdown stops it.
func (d *Dispatcher) runBackground() {
	defer d.bgWG.Done()

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()
	metricsTicker := time.NewTicker(metricsInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-d.stopBackground:
			return
		case <-sweepTicker.C:
			d.sweep()
		case <-metricsTicker.C:
			d.snapshotMetrics()
		}
	}
}

// sweep evicts every device whose worker has been idle (empty queue, no new
// sample) for longer than queueTimeout. Eviction only closes an idle queue,
// so it never interrupts in-flight work.
func (d *Dispatcher) sweep() {
	now := time.Now()
	d.mu.Lock()
	var evicted []string
	for deviceID, w := range d.workers {
		if len(w.queue) > 0 {
			continue
		}
		idleSince := time.Unix(0, atomic.LoadInt64(&w.lastActivity))
		if now.Sub(idleSince) < queueTimeout {
			continue
		}
		close(w.queue)
		delete(d.workers, deviceID)
		evicted = append(evicted, deviceID)
	}
	d.mu.Unlock()

	for _, deviceID := range evicted {
		d.log.Printf("dispatch: evicted idle queue for device %s after %s", deviceID, queueTimeout)
	}
}

// snapshotMetrics logs the dispatcher's current instrumentation and resets
// the per-minute enqueue counter.
func (d *Dispatcher) snapshotMetrics() {
	enqueued := atomic.SwapInt64(&d.enqueuedTotal, 0)
	atomic.StoreInt64(&d.lastMinuteEnqueued, enqueued)

	m := d.Metrics()
	d.log.Printf("dispatch: metrics active=%d enqueuedLastMinute=%d largestBacklog=%d devicesWithBacklogOver5=%d",
		m.ActiveDevices, m.EnqueuedLastMinute, m.LargestBacklog, m.DevicesWithBacklogOver5)
}

// Metrics returns a live snapshot of the dispatcher's instrumentation.
func (d *Dispatcher) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()

	var largest, overThreshold int
	for _, w := range d.workers {
		backlog := len(w.queue)
		if backlog > largest {
			largest = backlog
		}
		if backlog > 5 {
			overThreshold++
		}
	}
	return Metrics{
		ActiveDevices:          len(d.workers),
		EnqueuedLastMinute:     atomic.LoadInt64(&d.lastMinuteEnqueued),
		LargestBacklog:         largest,
		DevicesWithBacklogOver5: overThreshold,
	}
}

// Shutdown closes every device's queue, stops the background loop, and
// waits for every worker to drain and exit. Dispatch must not be called
// after Shutdown returns.
func (d *Dispatcher) Shutdown() {
	close(d.stopBackground)
	d.bgWG.Wait()

	d.mu.Lock()
	workers := make([]*worker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.Unlock()

	for _, w := range workers {
		close(w.queue)
	}
	d.wg.Wait()
}

// ActiveDeviceCount returns the number of devices with a running worker,
// used for diagnostics and tests.
func (d *Dispatcher) ActiveDeviceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}
