package telemetry

import (
	"testing"
	"time"
)

func TestFPSCalculatorComputesRateFromWindow(t *testing.T) {
	c := NewFPSCalculator()
	base := time.Unix(0, 0)

	if got := c.Record(base); got != 0 {
		t.Fatalf("first sample should report 0 fps, got %v", got)
	}

	// 11 samples spaced 100ms apart => (11-1)/1.0s = 10 fps.
	for i := 1; i <= 9; i++ {
		c.Record(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	got := c.Record(base.Add(1000 * time.Millisecond))
	if got < 9.9 || got > 10.1 {
		t.Fatalf("expected ~10 fps, got %v", got)
	}
}

func TestFPSCalculatorWindowCapsAt30Samples(t *testing.T) {
	c := NewFPSCalculator()
	base := time.Unix(0, 0)
	for i := 0; i < 50; i++ {
		c.Record(base.Add(time.Duration(i) * 33 * time.Millisecond))
	}
	if len(c.timestamps) != fpsWindowSize {
		t.Fatalf("expected window capped at %d samples, got %d", fpsWindowSize, len(c.timestamps))
	}
}

func TestInferenceTimeCalculatorComputesMeanFromWindow(t *testing.T) {
	c := NewInferenceTimeCalculator()

	if got := c.Record(10 * time.Millisecond); got != 10*time.Millisecond {
		t.Fatalf("first sample should report itself as the mean, got %v", got)
	}
	got := c.Record(30 * time.Millisecond)
	if got != 20*time.Millisecond {
		t.Fatalf("expected mean of 10ms and 30ms to be 20ms, got %v", got)
	}
}

func TestInferenceTimeCalculatorWindowCapsAt30Samples(t *testing.T) {
	c := NewInferenceTimeCalculator()
	for i := 0; i < 50; i++ {
		c.Record(time.Duration(i) * time.Millisecond)
	}
	if len(c.samples) != fpsWindowSize {
		t.Fatalf("expected window capped at %d samples, got %d", fpsWindowSize, len(c.samples))
	}
}

func TestHubPublishAndClear(t *testing.T) {
	h := NewHub()
	h.PublishFrame("det1", []byte("frame-bytes"))
	if got := h.Frame("det1"); string(got) != "frame-bytes" {
		t.Fatalf("expected published frame, got %q", got)
	}

	h.PublishSnapshot("det1", Snapshot{FPS: 15, LastUpdate: time.Now()})
	if got := h.Snapshot("det1"); got.FPS != 15 {
		t.Fatalf("expected fps 15, got %v", got.FPS)
	}

	h.Clear("det1")
	if got := h.Frame("det1"); got != nil {
		t.Fatal("expected frame cleared")
	}
	if got := h.Snapshot("det1"); got.FPS != 0 {
		t.Fatal("expected snapshot cleared")
	}
}

func TestHubSnapshotGoesStaleAfterFiveSeconds(t *testing.T) {
	h := NewHub()
	h.PublishSnapshot("det1", Snapshot{FPS: 20, LastUpdate: time.Now().Add(-10 * time.Second)})
	got := h.Snapshot("det1")
	if got.FPS != 0 {
		t.Fatalf("expected stale snapshot to report zero fps, got %v", got.FPS)
	}
}
