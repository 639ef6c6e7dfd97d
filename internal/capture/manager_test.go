package capture

import (
	"testing"
	"time"
)

// markHealthy fakes a just-delivered frame so a worker satisfies IsHealthy
// without needing a real capture source in tests.
func markHealthy(w *Worker) {
	w.mu.Lock()
	w.frame = &Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 1, Height: 1, Timestamp: time.Now()}
	w.lastFrameTime = time.Now()
	w.mu.Unlock()
}

func TestStreamManagerGetStreamReusesWorkerAndRefcounts(t *testing.T) {
	m := NewStreamManager()
	w1 := m.GetStream("rtsp://cam1/s", "consumerA")
	markHealthy(w1)
	w2 := m.GetStream("rtsp://cam1/s", "consumerB")

	if w1 != w2 {
		t.Fatal("expected the same worker to be reused for the same URL")
	}
	if got := w1.ConsumerCount(); got != 2 {
		t.Fatalf("expected 2 consumers, got %d", got)
	}

	m.ReleaseStream("rtsp://cam1/s", "consumerA")
	if got := w1.ConsumerCount(); got != 1 {
		t.Fatalf("expected 1 consumer after release, got %d", got)
	}

	w1.Stop()
	w1.Join(time.Second)
}

func TestStreamManagerGetStreamReplacesUnhealthyWorker(t *testing.T) {
	m := NewStreamManager()
	w1 := m.GetStream("rtsp://cam1b/s", "consumerA")
	// w1 never receives a frame, so it stays unhealthy even while alive.
	w2 := m.GetStream("rtsp://cam1b/s", "consumerB")

	if w1 == w2 {
		t.Fatal("expected an unhealthy worker to be replaced with a fresh instance")
	}
	if got := w2.ConsumerCount(); got != 2 {
		t.Fatalf("expected both consumers carried onto the replacement, got %d", got)
	}
	if !w1.Join(time.Second) {
		t.Fatal("expected the replaced worker to have been stopped")
	}

	w2.Stop()
	w2.Join(time.Second)
}

func TestStreamManagerForceRestartCarriesOverConsumers(t *testing.T) {
	m := NewStreamManager()
	original := m.GetStream("rtsp://cam2/s", "viewer1")
	m.GetStream("rtsp://cam2/s", "viewer2")

	replacement := m.ForceRestart("rtsp://cam2/s")
	if replacement == original {
		t.Fatal("expected a new worker instance after ForceRestart")
	}
	if got := replacement.ConsumerCount(); got != 2 {
		t.Fatalf("expected carried-over consumers to total 2, got %d", got)
	}
	if !original.Join(workerJoinTimeout) {
		t.Fatal("expected old worker to have stopped")
	}

	replacement.Stop()
	replacement.Join(time.Second)
}

func TestStreamManagerStopInactiveOnlyRemovesZeroConsumerWorkers(t *testing.T) {
	m := NewStreamManager()
	active := m.GetStream("rtsp://cam3/s", "viewer1")
	idle := m.GetStream("rtsp://cam4/s", "viewer2")
	m.ReleaseStream("rtsp://cam4/s", "viewer2")

	m.StopInactive()

	if _, ok := m.workers["rtsp://cam3/s"]; !ok {
		t.Fatal("active worker should not have been removed")
	}
	if _, ok := m.workers["rtsp://cam4/s"]; ok {
		t.Fatal("idle worker should have been removed from the registry")
	}

	idle.Join(workerJoinTimeout)
	active.Stop()
	active.Join(time.Second)
}

func TestStreamManagerStopAllEmptiesRegistry(t *testing.T) {
	m := NewStreamManager()
	m.GetStream("rtsp://cam5/s", "viewer1")
	m.GetStream("rtsp://cam6/s", "viewer2")

	m.StopAll()

	if len(m.workers) != 0 {
		t.Fatalf("expected empty registry after StopAll, got %d entries", len(m.workers))
	}
}
