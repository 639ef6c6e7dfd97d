package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"orbocore/internal/predictor"
)

func sampleJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{10, 10, 10, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode sample jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestAnnotateReturnsValidJPEG(t *testing.T) {
	frame := sampleJPEG(t)
	detections := []predictor.Detection{
		{ClassName: "person", Confidence: 0.91, Box: predictor.BBox{X1: 5, Y1: 5, X2: 30, Y2: 40}},
	}

	out := Annotate(frame, detections)
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("annotated output is not valid jpeg: %v", err)
	}
}

func TestAnnotateWithNoDetectionsStillValid(t *testing.T) {
	frame := sampleJPEG(t)
	out := Annotate(frame, nil)
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("annotated output with no detections is not valid jpeg: %v", err)
	}
}

func TestBurnClientTimestampReturnsValidJPEG(t *testing.T) {
	frame := sampleJPEG(t)
	out := BurnClientTimestamp(frame, time.Unix(0, 0))
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("timestamped output is not valid jpeg: %v", err)
	}
}

func TestAnnotateOnInvalidInputReturnsUnchanged(t *testing.T) {
	garbage := []byte("not a jpeg")
	out := Annotate(garbage, nil)
	if !bytes.Equal(garbage, out) {
		t.Fatal("expected invalid input to pass through unchanged")
	}
}
