// Package detect implements the Detector Worker inference loop and the
// Detector Manager that reconciles running workers to the config store's
// desired state.
package detect

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"orbocore/internal/capture"
	"orbocore/internal/config"
	"orbocore/internal/predictor"
	"orbocore/internal/render"
	"orbocore/internal/telemetry"
)

const (
	liveCheckInterval = 30
	frameTimeBudget   = time.Second / 15
	loopSleep         = 33 * time.Millisecond
	captureRetryWait  = time.Second
	frameRetryWait    = 100 * time.Millisecond
)

// PredictorFactory builds a fresh Predictor for a Detector Worker to load
// its model blob into.
type PredictorFactory func() predictor.Predictor

// Worker runs the per-detector inference loop: pull frames from a borrowed
// Capture Worker, run the predictor, publish the annotated frame and
// telemetry, and self-terminate if its DetectorConfig or CameraConfig
// becomes inactive.
type Worker struct {
	detectorID string
	cameraURL  string
	consumerID string

	store       config.Store
	streams     *capture.StreamManager
	telem       *telemetry.Hub
	newPred     PredictorFactory
	captureWork *capture.Worker

	trackingMu sync.RWMutex
	tracking   bool

	predMu sync.Mutex
	pred   predictor.Predictor

	tempModelPath string

	fps           *telemetry.FPSCalculator
	inferenceTime *telemetry.InferenceTimeCalculator
	skipNext      atomic.Bool
	running       atomic.Bool
	alive         atomic.Bool
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewWorker constructs a Detector Worker for detectorID. It does not start
// running until Start is called.
func NewWorker(detectorID, cameraURL string, tracking bool, store config.Store, streams *capture.StreamManager, telem *telemetry.Hub, newPred PredictorFactory) *Worker {
	return &Worker{
		detectorID: detectorID,
		cameraURL:  cameraURL,
		consumerID: "detector_" + detectorID + "_" + uuid.NewString(),
		store:      store,
		streams:    streams,
		telem:      telem,
		newPred:    newPred,
		tracking:      tracking,
		fps:           telemetry.NewFPSCalculator(),
		inferenceTime: telemetry.NewInferenceTimeCalculator(),
		stopCh:        make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Tracking reports the worker's current tracking flag.
func (w *Worker) Tracking() bool {
	w.trackingMu.RLock()
	defer w.trackingMu.RUnlock()
	return w.tracking
}

// IsAlive reports whether the inference loop goroutine is still running.
func (w *Worker) IsAlive() bool { return w.alive.Load() }

// Start loads the model and launches the inference loop in a background
// goroutine. It returns an error if the model could not be loaded; in that
// case the worker never enters its main loop and Start has already released
// the consumer it registered.
func (w *Worker) Start() error {
	w.captureWork = w.streams.GetStream(w.cameraURL, w.consumerID)

	model, err := w.loadModel()
	if err != nil {
		w.streams.ReleaseStream(w.cameraURL, w.consumerID)
		return err
	}

	w.predMu.Lock()
	w.pred = model
	w.predMu.Unlock()

	w.running.Store(true)
	w.alive.Store(true)
	go w.run()
	return nil
}

func (w *Worker) loadModel() (predictor.Predictor, error) {
	detector, err := w.store.GetDetector(w.detectorID)
	if err != nil {
		return nil, fmt.Errorf("read detector %s: %w", w.detectorID, err)
	}
	if detector == nil {
		return nil, fmt.Errorf("detector %s not found", w.detectorID)
	}

	model, err := w.store.GetModel(detector.ModelID)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", detector.ModelID, err)
	}
	if model.IsEmpty() {
		return nil, fmt.Errorf("model %s has no weights", detector.ModelID)
	}

	tmp, err := os.CreateTemp("", "detector-*.pt")
	if err != nil {
		return nil, fmt.Errorf("create temp model file: %w", err)
	}
	if _, err := tmp.Write(model.Blob); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write temp model file: %w", err)
	}
	tmp.Close()
	w.tempModelPath = tmp.Name()

	pred := w.newPred()
	if err := pred.LoadFromPath(w.tempModelPath); err != nil {
		os.Remove(w.tempModelPath)
		return nil, fmt.Errorf("load model into predictor: %w", err)
	}
	return pred, nil
}

// Stop requests cooperative termination; it does not block.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stopCh)
}

// Join blocks until the loop exits or timeout elapses. It returns true if
// the loop exited in time.
func (w *Worker) Join(timeout time.Duration) bool {
	select {
	case <-w.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *Worker) run() {
	defer w.cleanup()

	log.Printf("[DetectorWorker %s] starting", w.detectorID)
	iteration := 0

	for {
		select {
		case <-w.stopCh:
			log.Printf("[DetectorWorker %s] stop requested", w.detectorID)
			return
		default:
		}

		if iteration%liveCheckInterval == 0 {
			active, err := w.checkActive()
			if err != nil {
				log.Printf("[DetectorWorker %s] liveness check error: %v", w.detectorID, err)
			} else if !active {
				log.Printf("[DetectorWorker %s] detector or camera became inactive, stopping", w.detectorID)
				return
			}
		}

		if w.captureWork == nil || !w.captureWork.IsHealthy() {
			if w.sleepOrStop(captureRetryWait) {
				return
			}
			iteration++
			continue
		}

		frame := w.captureWork.GetFrame()
		if frame == nil {
			if w.sleepOrStop(frameRetryWait) {
				return
			}
			iteration++
			continue
		}

		if w.skipNext.Load() {
			w.skipNext.Store(false)
			if w.sleepOrStop(loopSleep) {
				return
			}
			iteration++
			continue
		}

		start := time.Now()
		w.runInference(frame)
		elapsed := time.Since(start)
		if elapsed > frameTimeBudget {
			w.skipNext.Store(true)
		}

		iteration++
		if w.sleepOrStop(loopSleep) {
			return
		}
	}
}

func (w *Worker) checkActive() (bool, error) {
	detector, err := w.store.GetDetector(w.detectorID)
	if err != nil {
		return false, err
	}
	if detector == nil || !detector.Running {
		return false, nil
	}
	camera, err := w.store.GetCamera(detector.CameraID)
	if err != nil {
		return false, err
	}
	if camera == nil || !camera.Enabled {
		return false, nil
	}
	return true, nil
}

func (w *Worker) runInference(frame *capture.Frame) {
	tracking := w.Tracking()
	model := w.currentModelConfig()

	inferenceStart := time.Now()
	w.predMu.Lock()
	detections, err := w.pred.Predict(frame.Data, tracking)
	w.predMu.Unlock()
	meanInference := w.inferenceTime.Record(time.Since(inferenceStart))
	if err != nil {
		log.Printf("[DetectorWorker %s] inference error: %v", w.detectorID, err)
		return
	}

	if model != nil {
		detections = predictor.FilterPretrained(detections, model.IsPretrained())
	}

	annotated := render.Annotate(frame.Data, detections)
	annotated = render.BurnClientTimestamp(annotated, time.Now())

	w.telem.PublishFrame(w.detectorID, annotated)

	fps := w.fps.Record(time.Now())
	w.telem.PublishSnapshot(w.detectorID, telemetry.Snapshot{
		FPS:            fps,
		InferenceTime:  meanInference,
		DetectionCount: len(detections),
		LastUpdate:     time.Now(),
	})
}

func (w *Worker) currentModelConfig() *config.ModelConfig {
	detector, err := w.store.GetDetector(w.detectorID)
	if err != nil || detector == nil {
		return nil
	}
	model, err := w.store.GetModel(detector.ModelID)
	if err != nil {
		return nil
	}
	return model
}

func (w *Worker) sleepOrStop(d time.Duration) bool {
	select {
	case <-w.stopCh:
		return true
	case <-time.After(d):
		return false
	}
}

func (w *Worker) cleanup() {
	w.streams.ReleaseStream(w.cameraURL, w.consumerID)

	w.predMu.Lock()
	if w.pred != nil {
		w.pred.Close()
	}
	w.predMu.Unlock()

	if w.tempModelPath != "" {
		os.Remove(w.tempModelPath)
	}

	w.telem.Clear(w.detectorID)
	w.alive.Store(false)
	close(w.doneCh)
	log.Printf("[DetectorWorker %s] stopped", w.detectorID)
}
