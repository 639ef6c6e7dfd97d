package predictor

import "testing"

func TestFilterPretrainedKeepsOnlyPersonClass(t *testing.T) {
	detections := []Detection{
		{ClassID: 0, ClassName: "person"},
		{ClassID: 2, ClassName: "car"},
		{ClassID: 0, ClassName: "person"},
	}

	filtered := FilterPretrained(detections, true)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 person detections, got %d", len(filtered))
	}
	for _, d := range filtered {
		if d.ClassID != pretrainedPersonClassID {
			t.Errorf("unexpected class in filtered output: %+v", d)
		}
	}

	unfiltered := FilterPretrained(detections, false)
	if len(unfiltered) != len(detections) {
		t.Fatalf("expected unchanged slice when pretrained=false, got %d", len(unfiltered))
	}
}

func TestStripTrackIDsZeroesEveryTrackID(t *testing.T) {
	in := []Detection{{TrackID: 7}, {TrackID: 0}, {TrackID: 42}}
	out := StripTrackIDs(in)
	for i, d := range out {
		if d.TrackID != 0 {
			t.Errorf("detection %d still has TrackID %d", i, d.TrackID)
		}
	}
	if in[0].TrackID != 7 {
		t.Error("StripTrackIDs should not mutate its input slice")
	}
}
