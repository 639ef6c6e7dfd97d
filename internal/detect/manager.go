package detect

import (
	"fmt"
	"log"
	"sync"
	"time"

	"orbocore/internal/capture"
	"orbocore/internal/config"
	"orbocore/internal/telemetry"
)

const workerJoinTimeout = 5 * time.Second

// Status is a per-worker observability snapshot returned by GetStatus.
type Status struct {
	Running        bool
	Alive          bool
	HasFrames      bool
	FPS            float64
	InferenceMs    float64
	DetectionCount int
}

// Manager reconciles the set of running Detector Workers to the desired
// set declared by the config store, honoring a short-lived tracking
// override map supplied by the HTTP layer (e.g. a stream request's
// ?tracking= query parameter).
type Manager struct {
	mu       sync.Mutex
	workers  map[string]*Worker
	store    config.Store
	streams  *capture.StreamManager
	telem    *telemetry.Hub
	newPred  PredictorFactory
}

// NewManager constructs a Detector Manager.
func NewManager(store config.Store, streams *capture.StreamManager, telem *telemetry.Hub, newPred PredictorFactory) *Manager {
	return &Manager{
		workers: make(map[string]*Worker),
		store:   store,
		streams: streams,
		telem:   telem,
		newPred: newPred,
	}
}

// Reconcile converges running workers to the desired state. overrides maps
// detector id to a tracking flag that wins over the currently running
// worker's flag; a detector absent from overrides keeps its running
// worker's flag, or starts with tracking off if no worker is running.
func (m *Manager) Reconcile(overrides map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	desired, err := m.store.ListDetectors(true)
	if err != nil {
		return fmt.Errorf("list running detectors: %w", err)
	}

	desiredIDs := make(map[string]*config.DetectorConfig, len(desired))
	for _, d := range desired {
		desiredIDs[d.ID] = d
	}

	for id := range m.workers {
		if _, wanted := desiredIDs[id]; !wanted {
			m.stopWorkerLocked(id)
		}
	}

	for id, d := range desiredIDs {
		wantTracking := false
		if override, ok := overrides[id]; ok {
			wantTracking = override
		} else if running, ok := m.workers[id]; ok {
			wantTracking = running.Tracking()
		}

		running, ok := m.workers[id]
		if ok && running.Tracking() == wantTracking {
			continue
		}
		if ok {
			m.stopWorkerLocked(id)
		}
		m.startWorkerLocked(d, wantTracking)
	}

	return nil
}

func (m *Manager) startWorkerLocked(d *config.DetectorConfig, tracking bool) {
	camera, err := m.store.GetCamera(d.CameraID)
	if err != nil {
		log.Printf("[Reconciler] read camera %s: %v", d.CameraID, err)
		return
	}
	if camera == nil || !camera.Enabled {
		log.Printf("[Reconciler] detector %s rejected: camera %s disabled or missing", d.ID, d.CameraID)
		return
	}

	model, err := m.store.GetModel(d.ModelID)
	if err != nil {
		log.Printf("[Reconciler] read model %s: %v", d.ModelID, err)
		return
	}
	if model.IsEmpty() {
		log.Printf("[Reconciler] detector %s rejected: model %s missing or empty", d.ID, d.ModelID)
		return
	}

	w := NewWorker(d.ID, camera.URL, tracking, m.store, m.streams, m.telem, m.newPred)
	if err := w.Start(); err != nil {
		log.Printf("[Reconciler] detector %s failed to start: %v", d.ID, err)
		return
	}

	m.workers[d.ID] = w
	log.Printf("[Reconciler] detector %s started (tracking=%v)", d.ID, tracking)
}

// stopWorkerLocked implements the termination protocol: remove from the map
// first, then stop() and join(timeout), warning if still alive afterward.
// Must be called with m.mu held.
func (m *Manager) stopWorkerLocked(id string) {
	w, ok := m.workers[id]
	if !ok {
		return
	}
	delete(m.workers, id)

	w.Stop()
	if !w.Join(workerJoinTimeout) {
		log.Printf("[Reconciler] detector %s did not stop within %s", id, workerJoinTimeout)
	}
}

// StopAll stops every running worker, then stops every Capture Worker, then
// clears the global telemetry state.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	for _, id := range ids {
		m.stopWorkerLocked(id)
	}
	m.mu.Unlock()

	m.streams.StopAll()

	for _, id := range ids {
		m.telem.Clear(id)
	}
}

// GetStatus returns a per-detector observability snapshot for every
// currently tracked worker.
func (m *Manager) GetStatus() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Status, len(m.workers))
	for id, w := range m.workers {
		snap := m.telem.Snapshot(id)
		out[id] = Status{
			Running:        w.running.Load(),
			Alive:          w.IsAlive(),
			HasFrames:      m.telem.Frame(id) != nil,
			FPS:            snap.FPS,
			InferenceMs:    float64(snap.InferenceTime.Microseconds()) / 1000.0,
			DetectionCount: snap.DetectionCount,
		}
	}
	return out
}
