package dispatch

import (
	logger "log"
	"io"
	"sync"
	"testing"

	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, "TEST : ", logger.LstdFlags)
}

func newTestStep(deviceID string, ts int64) motiondata.Sample {
	return motiondata.Sample{DeviceID: deviceID, Timestamp: ts}
}

func TestDispatchPreservesPerDeviceOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int64{}

	d := New(testLogger(), func(s motiondata.Sample) {
		mu.Lock()
		seen[s.DeviceID] = append(seen[s.DeviceID], s.Timestamp)
		mu.Unlock()
	})

	const perDevice = 50
	devices := []string{"A", "B", "C"}
	var wg sync.WaitGroup
	for _, dev := range devices {
		dev := dev
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perDevice; i++ {
				d.Dispatch(newTestStep(dev, int64(i)))
			}
		}()
	}
	wg.Wait()
	d.Shutdown()

	for _, dev := range devices {
		got := seen[dev]
		if len(got) != perDevice {
			t.Fatalf("device %s: got %d samples, want %d", dev, len(got), perDevice)
		}
		for i, ts := range got {
			if ts != int64(i) {
				t.Fatalf("device %s: out of order at index %d: %v", dev, i, got)
			}
		}
	}
}

func TestDispatchBacklogMetrics(t *testing.T) {
	block := make(chan struct{})
	d := New(testLogger(), func(motiondata.Sample) {
		<-block
	})

	const sent = 8
	for i := 0; i < sent; i++ {
		d.Dispatch(newTestStep("A", int64(i)))
	}

	m := d.Metrics()
	if m.ActiveDevices != 1 {
		t.Fatalf("ActiveDevices = %d, want 1", m.ActiveDevices)
	}
	if m.LargestBacklog < sent-1 {
		t.Fatalf("LargestBacklog = %d, want at least %d", m.LargestBacklog, sent-1)
	}
	if m.DevicesWithBacklogOver5 != 1 {
		t.Fatalf("DevicesWithBacklogOver5 = %d, want 1", m.DevicesWithBacklogOver5)
	}

	close(block)
	d.Shutdown()
}

func TestDispatchCreatesWorkerLazily(t *testing.T) {
	d := New(testLogger(), func(motiondata.Sample) {})
	if d.ActiveDeviceCount() != 0 {
		t.Fatalf("expected no workers before any dispatch")
	}
	d.Dispatch(newTestStep("X", 0))
	// Dispatch creates and registers the worker synchronously, so no wait is
	// needed before checking.
	if d.ActiveDeviceCount() != 1 {
		t.Fatalf("expected exactly one worker after dispatching for one device")
	}
	d.Shutdown()
}
