package detect

import "orbocore/internal/predictor"

// fakePredictor is an in-process stand-in for SubprocessPredictor used by
// tests so they don't need a real inference binary on PATH.
type fakePredictor struct {
	loadErr    error
	detections []predictor.Detection
	loadedPath string
	closed     bool
}

func (f *fakePredictor) LoadFromPath(path string) error {
	f.loadedPath = path
	return f.loadErr
}

func (f *fakePredictor) Predict(frame []byte, tracking bool) ([]predictor.Detection, error) {
	if !tracking {
		return predictor.StripTrackIDs(f.detections), nil
	}
	return f.detections, nil
}

func (f *fakePredictor) Close() error {
	f.closed = true
	return nil
}

var _ predictor.Predictor = (*fakePredictor)(nil)
