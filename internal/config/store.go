// Package config defines the query surface the streaming core uses to read
// desired state (cameras, models, detectors) and a SQLite-backed
// implementation of it. The core never mutates through this interface; it is
// read-only by design (see Store).
package config

import "strings"

// CameraConfig is the subset of camera state the core cares about.
type CameraConfig struct {
	ID       string
	Location string
	URL      string // stream URL; ip_address in the original schema
	Enabled  bool
	Type     string
}

// ModelConfig is the subset of model state the core cares about.
type ModelConfig struct {
	ID               string
	Name             string
	Blob             []byte
	OriginalFilename string
}

// IsEmpty reports whether the model carries no usable weights.
func (m *ModelConfig) IsEmpty() bool {
	return m == nil || len(m.Blob) == 0
}

// IsPretrained reports whether the model name (trimmed, case-insensitive)
// triggers the person-only class filter.
func (m *ModelConfig) IsPretrained() bool {
	return m != nil && normalizeModelName(m.Name) == "pretrained"
}

// DetectorConfig is the subset of detector state the core cares about.
type DetectorConfig struct {
	ID       string
	CameraID string
	ModelID  string
	Running  bool
	Tracking bool
}

// Store is the read-only query surface the streaming core depends on.
// HTTP CRUD handlers, form validation, and everything else that mutates
// cameras/models/detectors lives outside this interface and outside the
// core; they talk to a richer store and finish each mutation by calling
// Detector Manager.Reconcile.
type Store interface {
	ListDetectors(runningOnly bool) ([]*DetectorConfig, error)
	GetDetector(id string) (*DetectorConfig, error)
	GetCamera(idOrURL string) (*CameraConfig, error)
	GetModel(id string) (*ModelConfig, error)
	ListCameras() ([]*CameraConfig, error)
	ListModels() ([]*ModelConfig, error)

	Close() error
}

func normalizeModelName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
