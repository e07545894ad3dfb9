package syncutil

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/log"
)

// WaitingThread is the per-goroutine record in the wait-for graph.
type WaitingThread struct {
	// ID is the goroutine id this record belongs to.
	ID int64
	// waitingTarget is the SyncMutex the goroutine is currently waiting
	// on, or nil. Guarded by the detector mutex.
	waitingTarget *SyncMutex
	// count is the number of sync objects the goroutine currently owns.
	// The record is discarded when it drops to zero.
	count int
}

// Detector is the process-wide deadlock detection service. It owns the
// wait-for graph: one WaitingThread record per goroutine that holds or
// waits for a SyncMutex. All graph mutation happens under the detector
// mutex; the graph walk in check never blocks on anything else.
type Detector struct {
	mu      sync.Mutex
	enabled bool
	records map[int64]*WaitingThread

	// broker, when set, receives a DeadlockDetected event for every
	// refused acquisition.
	broker atomic.Pointer[events.Broker]
}

var (
	detector     *Detector
	detectorOnce sync.Mutex
)

// Initialize starts the detector service. When enabled is false, SyncMutex
// skips all graph bookkeeping and behaves as a plain recursive mutex.
func Initialize(enabled bool) {
	detectorOnce.Lock()
	defer detectorOnce.Unlock()
	detector = &Detector{
		enabled: enabled,
		records: make(map[int64]*WaitingThread),
	}
	if enabled {
		logger := log.WithComponent("syncutil")
		logger.Info().Msg("Deadlock detector enabled")
	}
}

// SetBroker routes deadlock notifications through an event broker.
// Effective only while the detector service is initialized.
func SetBroker(b *events.Broker) {
	detectorOnce.Lock()
	defer detectorOnce.Unlock()
	if detector != nil {
		detector.broker.Store(b)
	}
}

// Terminate stops the detector service. SyncMutex operations after
// Terminate behave as if detection were disabled.
func Terminate() {
	detectorOnce.Lock()
	defer detectorOnce.Unlock()
	detector = nil
}

func currentDetector() *Detector {
	detectorOnce.Lock()
	d := detector
	detectorOnce.Unlock()
	if d == nil || !d.enabled {
		return nil
	}
	return d
}

// waitingThread returns the record for the given goroutine, creating it
// if absent. Caller holds the detector mutex.
func (d *Detector) waitingThread(id int64) *WaitingThread {
	w, ok := d.records[id]
	if !ok {
		w = &WaitingThread{ID: id}
		d.records[id] = w
	}
	return w
}

// dropWaitingThread removes a record whose lock count reached zero.
// Caller holds the detector mutex.
func (d *Detector) dropWaitingThread(w *WaitingThread) {
	delete(d.records, w.ID)
}

// check walks the wait-for graph starting from object: the owner of object
// may itself be waiting on another object, whose owner may be waiting, and
// so on. Reaching waiting again means the candidate acquisition would close
// a cycle. Returns false on deadlock. Caller holds the detector mutex.
func (d *Detector) check(waiting *WaitingThread, object *SyncMutex) bool {
	for object != nil && object.lockerThread != nil {
		if object.lockerThread == waiting {
			return false
		}
		object = object.lockerThread.waitingTarget
	}
	return true
}
