// Package webrtcstream implements the per-detector WebRTC video track, the
// TCP signalling listener that bootstraps peer connections, and the low
// latency SDP rewriting the original service performed by hand.
package webrtcstream

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	xdraw "golang.org/x/image/draw"

	"orbocore/internal/telemetry"
)

const (
	minFrameInterval = time.Second / 30
	trackFPS         = 30
	maxTrackWidth    = 640
	maxTrackHeight   = 480
	placeholderW     = 320
	placeholderH     = 240
)

// DetectorTrack publishes one detector's annotated frames onto a
// TrackLocalStaticSample, polling the telemetry hub at up to 30Hz. Each
// polled JPEG (downscaled if larger than 640x480, or a black placeholder
// before the first frame arrives) is fed through a real VP8 encoder before
// being handed to WriteSample, so peers receive a genuinely decodable VP8
// bitstream rather than JPEG bytes mislabeled with a VP8 mime type.
type DetectorTrack struct {
	detectorID string
	telem      *telemetry.Hub
	track      *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}

	encMu   sync.Mutex
	encoder *vp8Encoder
}

// NewDetectorTrack creates the underlying pion track and the publisher that
// feeds it from the telemetry hub. The VP8 encoder subprocess is spawned
// lazily on first use (and respawned on failure) rather than here, so a
// missing ffmpeg binary doesn't fail track construction itself.
func NewDetectorTrack(detectorID string, telem *telemetry.Hub) (*DetectorTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"detector_"+detectorID,
	)
	if err != nil {
		return nil, err
	}
	return &DetectorTrack{
		detectorID: detectorID,
		telem:      telem,
		track:      track,
		stopCh:     make(chan struct{}),
	}, nil
}

// Track returns the pion TrackLocal to add to a peer connection.
func (t *DetectorTrack) Track() webrtc.TrackLocal { return t.track }

// Start launches the publish loop in the background. Safe to call once.
func (t *DetectorTrack) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.publishLoop()
}

// Stop terminates the publish loop and the encoder subprocess it owns.
func (t *DetectorTrack) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	close(t.stopCh)
	t.started = false
	t.mu.Unlock()
}

func (t *DetectorTrack) publishLoop() {
	ticker := time.NewTicker(minFrameInterval)
	defer ticker.Stop()
	defer t.closeEncoder()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.publishOnce()
		}
	}
}

// publishOnce feeds one source JPEG into the encoder and forwards the VP8
// frame it produces to the track. ffmpeg's realtime deadline and fixed GOP
// keep this close to a 1:1 input:output cadence, so a single blocking
// encode-then-read pair per tick is enough; on any failure the encoder is
// torn down and respawned on the next tick.
func (t *DetectorTrack) publishOnce() {
	enc := t.ensureEncoder()
	if enc == nil {
		return
	}

	if err := enc.EncodeFrame(t.nextSourceFrame()); err != nil {
		log.Printf("[WebRTC] vp8 encoder input failed for detector %s: %v", t.detectorID, err)
		t.closeEncoder()
		return
	}

	frame, err := enc.NextFrame()
	if err != nil {
		log.Printf("[WebRTC] vp8 encoder output failed for detector %s: %v", t.detectorID, err)
		t.closeEncoder()
		return
	}

	if err := t.track.WriteSample(media.Sample{Data: frame, Duration: minFrameInterval}); err != nil {
		log.Printf("[WebRTC] write sample failed for detector %s: %v", t.detectorID, err)
	}
}

func (t *DetectorTrack) ensureEncoder() *vp8Encoder {
	t.encMu.Lock()
	defer t.encMu.Unlock()
	if t.encoder != nil {
		return t.encoder
	}
	enc, err := newVP8Encoder(maxTrackWidth, maxTrackHeight, trackFPS)
	if err != nil {
		log.Printf("[WebRTC] failed to start vp8 encoder for detector %s: %v", t.detectorID, err)
		return nil
	}
	t.encoder = enc
	return enc
}

func (t *DetectorTrack) closeEncoder() {
	t.encMu.Lock()
	defer t.encMu.Unlock()
	if t.encoder != nil {
		t.encoder.Close()
		t.encoder = nil
	}
}

// nextSourceFrame returns the JPEG image to feed into the VP8 encoder for
// this tick: the detector's latest annotated frame (downscaled if it
// exceeds the track's max dimensions), or a black placeholder if none has
// been published yet.
func (t *DetectorTrack) nextSourceFrame() []byte {
	jpegData := t.telem.Frame(t.detectorID)
	if jpegData == nil {
		return blackPlaceholderJPEGFrame()
	}
	return resizeIfLarger(jpegData, maxTrackWidth, maxTrackHeight)
}

func resizeIfLarger(jpegData []byte, maxW, maxH int) []byte {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return jpegData
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxW && bounds.Dy() <= maxH {
		return jpegData
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxW, maxH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return jpegData
	}
	return buf.Bytes()
}

func blackPlaceholderJPEGFrame() []byte {
	img := image.NewRGBA(image.Rect(0, 0, placeholderW, placeholderH))
	fillBlack(img)
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 50})
	return buf.Bytes()
}

func fillBlack(img *image.RGBA) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.Set(x, y, color.RGBA{0, 0, 0, 255})
		}
	}
}
