package config

import "testing"

func TestMemoryStoreListDetectorsFiltersRunning(t *testing.T) {
	s := NewMemoryStore()
	s.PutDetector(&DetectorConfig{ID: "1", Running: true})
	s.PutDetector(&DetectorConfig{ID: "2", Running: false})

	running, err := s.ListDetectors(true)
	if err != nil {
		t.Fatalf("ListDetectors: %v", err)
	}
	if len(running) != 1 || running[0].ID != "1" {
		t.Fatalf("expected only detector 1, got %+v", running)
	}

	all, err := s.ListDetectors(false)
	if err != nil {
		t.Fatalf("ListDetectors: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both detectors, got %+v", all)
	}
}

func TestMemoryStoreGetCameraByIDOrURL(t *testing.T) {
	s := NewMemoryStore()
	s.PutCamera(&CameraConfig{ID: "1", URL: "rtsp://10.0.0.2/s1", Enabled: true})

	byID, err := s.GetCamera("1")
	if err != nil || byID == nil {
		t.Fatalf("GetCamera(id): %v, %+v", err, byID)
	}
	byURL, err := s.GetCamera("rtsp://10.0.0.2/s1")
	if err != nil || byURL == nil {
		t.Fatalf("GetCamera(url): %v, %+v", err, byURL)
	}
	if missing, err := s.GetCamera("nope"); err != nil || missing != nil {
		t.Fatalf("expected nil for missing camera, got %+v, %v", missing, err)
	}
}

func TestModelConfigPretrainedFilter(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"pretrained", true},
		{"Pretrained", true},
		{"  PRETRAINED  ", true},
		{"people", false},
		{"", false},
	}
	for _, c := range cases {
		m := &ModelConfig{Name: c.name}
		if got := m.IsPretrained(); got != c.want {
			t.Errorf("IsPretrained(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestModelConfigIsEmpty(t *testing.T) {
	if (&ModelConfig{}).IsEmpty() != true {
		t.Error("model with no blob should be empty")
	}
	if (&ModelConfig{Blob: []byte{1}}).IsEmpty() != false {
		t.Error("model with a blob should not be empty")
	}
	var nilModel *ModelConfig
	if !nilModel.IsEmpty() {
		t.Error("nil model should be empty")
	}
}
