package mjpegstream

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"orbocore/internal/capture"
	"orbocore/internal/config"
	"orbocore/internal/detect"
	"orbocore/internal/predictor"
	"orbocore/internal/telemetry"
)

// stubPredictor satisfies predictor.Predictor with no real inference, just
// enough to let a Detector Worker start.
type stubPredictor struct{}

func (stubPredictor) LoadFromPath(path string) error { return nil }
func (stubPredictor) Predict(frame []byte, tracking bool) ([]predictor.Detection, error) {
	return nil, nil
}
func (stubPredictor) Close() error { return nil }

func sampleJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{1, 2, 3, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode sample jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestServeCCTVRejectsUnknownCamera(t *testing.T) {
	store := config.NewMemoryStore()
	h := NewHandler(store, capture.NewStreamManager(), telemetry.NewHub(), nil)

	r := chi.NewRouter()
	r.Get("/cctv/stream/{camID}", h.ServeCCTV)

	req := httptest.NewRequest(http.MethodGet, "/cctv/stream/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown camera, got %d", rec.Code)
	}
}

func TestServeCCTVRejectsDisabledCamera(t *testing.T) {
	store := config.NewMemoryStore()
	store.PutCamera(&config.CameraConfig{ID: "cam1", URL: "http://1.1.1.1", Enabled: false})
	h := NewHandler(store, capture.NewStreamManager(), telemetry.NewHub(), nil)

	r := chi.NewRouter()
	r.Get("/cctv/stream/{camID}", h.ServeCCTV)

	req := httptest.NewRequest(http.MethodGet, "/cctv/stream/cam1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for disabled camera, got %d", rec.Code)
	}
}

func TestServeDetectorStreamRejectsInactiveDetector(t *testing.T) {
	store := config.NewMemoryStore()
	store.PutDetector(&config.DetectorConfig{ID: "det1", Running: false})
	h := NewHandler(store, capture.NewStreamManager(), telemetry.NewHub(), nil)

	r := chi.NewRouter()
	r.Get("/detector/stream_detector/{detID}", h.ServeDetectorStream)

	req := httptest.NewRequest(http.MethodGet, "/detector/stream_detector/det1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inactive detector, got %d", rec.Code)
	}
}

func TestServeFPSInfoReportsZeroForUnknownDetector(t *testing.T) {
	store := config.NewMemoryStore()
	h := NewHandler(store, capture.NewStreamManager(), telemetry.NewHub(), nil)

	req := httptest.NewRequest(http.MethodGet, "/detector/fps_info/unknown", nil)
	rec := httptest.NewRecorder()
	r := chi.NewRouter()
	r.Get("/detector/fps_info/{detID}", h.ServeFPSInfo)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"fps":0.00`)) {
		t.Fatalf("expected zeroed fps info, got %s", rec.Body.String())
	}
}

func TestServeDetectorStreamTrackingQueryParamTriggersOverrideReconcile(t *testing.T) {
	store := config.NewMemoryStore()
	store.PutCamera(&config.CameraConfig{ID: "cam1", URL: "http://1.1.1.1", Enabled: true})
	store.PutModel(&config.ModelConfig{ID: "model1", Blob: []byte("weights")})
	store.PutDetector(&config.DetectorConfig{ID: "det1", CameraID: "cam1", ModelID: "model1", Running: true, Tracking: false})

	streams := capture.NewStreamManager()
	telem := telemetry.NewHub()
	manager := detect.NewManager(store, streams, telem, func() predictor.Predictor { return stubPredictor{} })
	if err := manager.Reconcile(nil); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	defer manager.StopAll()

	h := NewHandler(store, streams, telem, manager)

	r := chi.NewRouter()
	r.Get("/detector/stream_detector/{detID}", h.ServeDetectorStream)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/detector/stream_detector/det1?tracking=true", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	r.ServeHTTP(rec, req)

	status := manager.GetStatus()["det1"]
	if !status.Running {
		t.Fatalf("expected detector to still be running after tracking override, got %+v", status)
	}
}

func TestReencodeQualityProducesValidJPEG(t *testing.T) {
	frame := sampleJPEG(t)
	out := reencodeQuality(frame, cctvJPEGQuality)
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("expected valid jpeg output, got error: %v", err)
	}
}
