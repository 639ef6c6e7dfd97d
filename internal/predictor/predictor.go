// Package predictor wraps a model blob as a black-box object detector: load
// it from a path and run inference on a frame. Drawing the results onto the
// frame is not done here (see internal/render). The concrete implementation shells out to a subprocess because
// the inference runtime this wraps (an ultralytics-style detector) only
// accepts a filesystem path to its weights, not an in-memory handle.
package predictor

import (
	"fmt"
)

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float32
}

// Detection is a single predicted object.
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float32
	Box        BBox
	// TrackID is the persistent identity assigned to this detection when
	// tracking mode is enabled. It is the zero value when tracking is off.
	TrackID int
}

// pretrainedPersonClassID is the COCO class id for "person". The "pretrained"
// model name filters detections down to this class only.
const pretrainedPersonClassID = 0

// Predictor is the contract every model backend satisfies: load weights from
// a path and run inference (optionally with identity tracking across
// calls). Rendering detections onto a frame is handled entirely by
// internal/render, which runs in-process against the Go image stack rather
// than round-tripping frames through the inference subprocess.
type Predictor interface {
	// LoadFromPath loads model weights from a file on disk.
	LoadFromPath(path string) error

	// Predict runs inference on frame. When tracking is true, returned
	// Detections carry a stable TrackID across successive calls on the
	// same Predictor instance; when false, TrackID is always zero.
	Predict(frame []byte, tracking bool) ([]Detection, error)

	// Close releases any resources (subprocess, temp files) held by the
	// predictor.
	Close() error
}

// FilterPretrained restricts detections to the person class when
// pretrained is true; otherwise it returns detections unchanged.
func FilterPretrained(detections []Detection, pretrained bool) []Detection {
	if !pretrained {
		return detections
	}
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.ClassID == pretrainedPersonClassID {
			out = append(out, d)
		}
	}
	return out
}

// StripTrackIDs zeroes TrackID on every detection. Used when tracking is
// disabled after having been enabled, so stale identities are not reused.
func StripTrackIDs(detections []Detection) []Detection {
	out := make([]Detection, len(detections))
	for i, d := range detections {
		d.TrackID = 0
		out[i] = d
	}
	return out
}

var errNoWeightsLoaded = fmt.Errorf("predictor: no weights loaded")
