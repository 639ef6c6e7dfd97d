package capture

import (
	"log"
	"sync"
	"time"
)

const (
	workerJoinTimeout       = 10 * time.Second
	forceRestartJoinTimeout = 5 * time.Second
)

// StreamManager is the registry of Capture Workers keyed by stream URL. It
// hands out reference-counted access to live streams and recycles unhealthy
// workers transparently to their consumers.
//
// Lock discipline: the registry lock is never held while reading frames or
// while a caller blocks on a worker; callers of GetStream hold the registry
// lock only long enough to find-or-create the worker entry.
type StreamManager struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

// NewStreamManager creates an empty stream manager.
func NewStreamManager() *StreamManager {
	return &StreamManager{workers: make(map[string]*Worker)}
}

// GetStream returns the Capture Worker for url, starting one if none exists.
// A worker that exists but is no longer alive or has gone unhealthy (stale
// or failed connection) is replaced with a fresh instance, carrying over
// its consumer set; the stale worker is stopped and joined in the
// background so callers never block on its shutdown. It registers
// consumerID against the (possibly new) worker before returning.
func (m *StreamManager) GetStream(url, consumerID string) *Worker {
	m.mu.Lock()
	w, ok := m.workers[url]
	var stale *Worker
	if !ok || !w.IsAlive() || !w.IsHealthy() {
		if ok {
			stale = w
		}
		w = NewWorker(url)
		w.Start()
		if stale != nil {
			for _, id := range stale.consumerIDs() {
				w.AddConsumer(id)
			}
		}
		m.workers[url] = w
	}
	m.mu.Unlock()

	if stale != nil {
		log.Printf("[CameraStreamManager] replacing unhealthy worker for %s", url)
		go func(old *Worker) {
			old.Stop()
			if !old.Join(forceRestartJoinTimeout) {
				log.Printf("[CameraStreamManager] worker for %s did not stop within %s", url, forceRestartJoinTimeout)
			}
		}(stale)
	}

	w.AddConsumer(consumerID)
	return w
}

// ReleaseStream removes consumerID from the worker for url, if present.
func (m *StreamManager) ReleaseStream(url, consumerID string) {
	m.mu.Lock()
	w, ok := m.workers[url]
	m.mu.Unlock()
	if !ok {
		return
	}
	w.RemoveConsumer(consumerID)
}

// ForceRestart stops and replaces the worker for url, carrying over its
// current consumer set to the replacement so none of them observe a gap
// in registration (only in delivered frames, which necessarily restart).
func (m *StreamManager) ForceRestart(url string) *Worker {
	m.mu.Lock()
	old, ok := m.workers[url]
	var carryover []string
	if ok {
		carryover = old.consumerIDs()
	}

	replacement := NewWorker(url)
	replacement.Start()
	m.workers[url] = replacement
	m.mu.Unlock()

	if ok {
		log.Printf("[CameraStreamManager] force-restarting worker for %s", url)
		old.Stop()
		if !old.Join(forceRestartJoinTimeout) {
			log.Printf("[CameraStreamManager] worker for %s did not stop within %s", url, forceRestartJoinTimeout)
		}
	}

	for _, id := range carryover {
		replacement.AddConsumer(id)
	}
	return replacement
}

// StopInactive stops and removes any worker with zero consumers, waiting up
// to workerJoinTimeout for each to exit.
func (m *StreamManager) StopInactive() {
	m.mu.Lock()
	var idle []*Worker
	for url, w := range m.workers {
		if w.ConsumerCount() == 0 {
			idle = append(idle, w)
			delete(m.workers, url)
		}
	}
	m.mu.Unlock()

	for _, w := range idle {
		log.Printf("[CameraStreamManager] stopping idle worker for %s", w.URL())
		w.Stop()
		if !w.Join(workerJoinTimeout) {
			log.Printf("[CameraStreamManager] worker for %s did not stop within %s", w.URL(), workerJoinTimeout)
		}
	}
}

// CleanupDead removes entries whose capture loop has already exited on its
// own (reconnect budget exhausted, etc.) without waiting for a consumer to
// notice, and reaps workers that are still running but unhealthy (stale or
// failed connection) by stopping them before dropping the registry entry,
// so the replacement GetStream later creates doesn't race a forgotten but
// still-live worker for the same URL.
func (m *StreamManager) CleanupDead() {
	m.mu.Lock()
	var toStop []*Worker
	for url, w := range m.workers {
		if !w.IsAlive() {
			log.Printf("[CameraStreamManager] reaping dead worker for %s", url)
			delete(m.workers, url)
			continue
		}
		if !w.IsHealthy() {
			log.Printf("[CameraStreamManager] reaping unhealthy worker for %s", url)
			toStop = append(toStop, w)
			delete(m.workers, url)
		}
	}
	m.mu.Unlock()

	for _, w := range toStop {
		w.Stop()
	}
}

// StopAll stops every registered worker and empties the registry, waiting up
// to workerJoinTimeout for each to exit.
func (m *StreamManager) StopAll() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*Worker)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
			if !w.Join(workerJoinTimeout) {
				log.Printf("[CameraStreamManager] worker for %s did not stop within %s", w.URL(), workerJoinTimeout)
			}
		}(w)
	}
	wg.Wait()
}

// consumerIDs returns a snapshot of the worker's current consumer ids.
func (w *Worker) consumerIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.consumers))
	for id := range w.consumers {
		ids = append(ids, id)
	}
	return ids
}
