// Package mjpegstream serves the two MJPEG HTTP endpoints: a raw camera
// passthrough and an annotated per-detector feed, both as
// multipart/x-mixed-replace responses.
package mjpegstream

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"orbocore/internal/capture"
	"orbocore/internal/config"
	"orbocore/internal/detect"
	"orbocore/internal/render"
	"orbocore/internal/telemetry"
)

const (
	frameInterval     = 33 * time.Millisecond
	maxEmptyFrames    = 150
	cctvJPEGQuality   = 80
	rawRecheckFrames  = 30
	detectorRecheck   = time.Second
)

// Handler serves the raw CCTV and annotated detector MJPEG endpoints.
type Handler struct {
	store   config.Store
	streams *capture.StreamManager
	telem   *telemetry.Hub
	manager *detect.Manager
}

// NewHandler constructs an MJPEG HTTP handler. manager may be nil in tests
// that don't exercise the tracking-override query parameter.
func NewHandler(store config.Store, streams *capture.StreamManager, telem *telemetry.Hub, manager *detect.Manager) *Handler {
	return &Handler{store: store, streams: streams, telem: telem, manager: manager}
}

func noCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func writeJPEGPart(w http.ResponseWriter, flusher http.Flusher, data []byte) {
	fmt.Fprintf(w, "--frame\r\n")
	fmt.Fprintf(w, "Content-Type: image/jpeg\r\n\r\n")
	w.Write(data)
	fmt.Fprintf(w, "\r\n")
	flusher.Flush()
}

// ServeCCTV implements §4.5.1: raw camera passthrough.
func (h *Handler) ServeCCTV(w http.ResponseWriter, r *http.Request) {
	camID := chi.URLParam(r, "camID")
	camera, err := h.store.GetCamera(camID)
	if err != nil || camera == nil {
		http.Error(w, "camera not found", http.StatusNotFound)
		return
	}
	if !camera.Enabled {
		http.Error(w, "camera is disabled", http.StatusBadRequest)
		return
	}

	consumerID := fmt.Sprintf("cctv_%s_%d", camID, time.Now().Unix())

	h.streams.CleanupDead()
	worker := h.streams.GetStream(camera.URL, consumerID)
	if worker == nil {
		worker = h.streams.ForceRestart(camera.URL)
		worker.AddConsumer(consumerID)
	}
	if worker == nil {
		http.Error(w, "could not obtain camera stream", http.StatusInternalServerError)
		return
	}
	defer h.streams.ReleaseStream(camera.URL, consumerID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	noCacheHeaders(w)
	log.Printf("[MJPEG] client connected to camera %s", camID)

	frameCount := 0
	emptyFrames := 0

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEG] client disconnected from camera %s", camID)
			return
		default:
		}

		if frameCount%rawRecheckFrames == 0 {
			current, err := h.store.GetCamera(camID)
			if err != nil || current == nil || !current.Enabled {
				log.Printf("[MJPEG] camera %s became inactive, stopping stream", camID)
				return
			}
		}

		frame := worker.GetFrame()
		if frame == nil {
			emptyFrames++
			if emptyFrames >= maxEmptyFrames {
				log.Printf("[MJPEG] no frames available for camera %s, stopping stream", camID)
				return
			}
			time.Sleep(frameInterval)
			frameCount++
			continue
		}
		emptyFrames = 0

		encoded := reencodeQuality(frame.Data, cctvJPEGQuality)
		writeJPEGPart(w, flusher, encoded)

		frameCount++
		time.Sleep(frameInterval)
	}
}

// ServeDetectorStream implements §4.5.2: annotated detector feed.
func (h *Handler) ServeDetectorStream(w http.ResponseWriter, r *http.Request) {
	detID := chi.URLParam(r, "detID")

	detector, err := h.store.GetDetector(detID)
	if err != nil || detector == nil || !detector.Running {
		http.Error(w, "detector is off or does not exist", http.StatusBadRequest)
		return
	}

	if raw := r.URL.Query().Get("tracking"); raw != "" && h.manager != nil {
		tracking := raw == "true"
		if err := h.manager.Reconcile(map[string]bool{detID: tracking}); err != nil {
			log.Printf("[MJPEG] tracking override reconcile for detector %s failed: %v", detID, err)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	noCacheHeaders(w)
	log.Printf("[MJPEG] client connected to detector %s", detID)

	emptyFrames := 0
	lastCheck := time.Now()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEG] client disconnected from detector %s", detID)
			return
		default:
		}

		if time.Since(lastCheck) >= detectorRecheck {
			current, err := h.store.GetDetector(detID)
			if err != nil || current == nil || !current.Running {
				log.Printf("[MJPEG] detector %s became inactive, stopping stream", detID)
				return
			}
			camera, err := h.store.GetCamera(current.CameraID)
			if err != nil || camera == nil || !camera.Enabled {
				log.Printf("[MJPEG] camera for detector %s became inactive, stopping stream", detID)
				return
			}
			lastCheck = time.Now()
		}

		frame := h.telem.Frame(detID)
		if frame == nil {
			emptyFrames++
			if emptyFrames >= maxEmptyFrames {
				log.Printf("[MJPEG] no annotated frames for detector %s, stopping stream", detID)
				return
			}
			time.Sleep(frameInterval)
			continue
		}
		emptyFrames = 0

		framed := render.BurnClientTimestamp(frame, time.Now())
		writeJPEGPart(w, flusher, framed)

		time.Sleep(frameInterval)
	}
}

// ServeFPSInfo implements GET /detector/fps_info/<id>.
func (h *Handler) ServeFPSInfo(w http.ResponseWriter, r *http.Request) {
	detID := chi.URLParam(r, "detID")
	snap := h.telem.Snapshot(detID)
	lastUpdate := snap.LastUpdate
	if lastUpdate.IsZero() {
		lastUpdate = time.Now()
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"fps":%.2f,"inference_time":%.2f,"detections":%d,"last_update":%d}`,
		snap.FPS, float64(snap.InferenceTime.Microseconds())/1000.0, snap.DetectionCount, lastUpdate.Unix())
}

// ServeStatus implements the supplemental GET /detector/status endpoint,
// reporting the Detector Manager's full get_status() snapshot.
func ServeStatus(manager *detect.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := manager.GetStatus()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{")
		first := true
		for id, s := range status {
			if !first {
				fmt.Fprint(w, ",")
			}
			first = false
			fmt.Fprintf(w, `"%s":{"running":%t,"alive":%t,"has_frames":%t,"fps":%.2f,"inference_time":%.2f,"detections":%d}`,
				id, s.Running, s.Alive, s.HasFrames, s.FPS, s.InferenceMs, s.DetectionCount)
		}
		fmt.Fprint(w, "}")
	}
}

func reencodeQuality(jpegData []byte, quality int) []byte {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return jpegData
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return jpegData
	}
	return buf.Bytes()
}
