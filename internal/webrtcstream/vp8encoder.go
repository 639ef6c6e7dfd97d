package webrtcstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ivfHeaderSize is the size of the container header that precedes the first
// frame in an IVF stream.
const ivfHeaderSize = 32

// ivfFrameHeaderSize is the size of the header in front of every frame
// payload: a 4-byte little-endian size followed by an 8-byte presentation
// timestamp.
const ivfFrameHeaderSize = 12

// vp8Encoder drives an ffmpeg subprocess that reads a stream of concatenated
// JPEG images from stdin and writes real VP8 frames, wrapped in an IVF
// container, to stdout. This is the same ffmpeg-as-codec-bridge approach
// internal/capture uses to turn an RTSP/v4l2 source into MJPEG, run in the
// opposite direction: turning our own annotated JPEGs into a codec
// pion/webrtc's TrackLocalStaticSample can actually ship to a peer.
type vp8Encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu     sync.Mutex
	closed bool
}

// newVP8Encoder starts the ffmpeg subprocess and blocks until its IVF file
// header has been read and validated.
func newVP8Encoder(width, height, fps int) (*vp8Encoder, error) {
	cmd := exec.Command("ffmpeg",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		"-maxrate", "1M",
		"-bufsize", "2M",
		"-g", "30",
		"-keyint_min", "30",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-an",
		"-f", "ivf",
		"-loglevel", "warning",
		"-",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("vp8 encoder stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("vp8 encoder stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("vp8 encoder stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start vp8 encoder: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			// ffmpeg diagnostics are consumed silently.
		}
	}()

	reader := bufio.NewReaderSize(stdout, 64*1024)
	header := make([]byte, ivfHeaderSize)
	if _, err := io.ReadFull(reader, header); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("read ivf header: %w", err)
	}
	if err := validateIVFHeader(header); err != nil {
		cmd.Process.Kill()
		return nil, err
	}

	return &vp8Encoder{cmd: cmd, stdin: stdin, stdout: reader}, nil
}

// validateIVFHeader checks the "DKIF" signature at the front of a 32-byte
// IVF container header.
func validateIVFHeader(header []byte) error {
	if len(header) < 4 {
		return fmt.Errorf("ivf header too short: %d bytes", len(header))
	}
	if string(header[0:4]) != "DKIF" {
		return fmt.Errorf("invalid IVF signature %q", header[0:4])
	}
	return nil
}

// readIVFFrame reads one IVF-framed payload from r: a 12-byte frame header
// (4-byte little-endian size, 8-byte timestamp, the latter unused here since
// WriteSample is given its own duration) followed by that many bytes of raw
// VP8 bitstream data. Returns a nil slice (no error) for a zero-size frame,
// which the caller should skip and read again.
func readIVFFrame(r io.Reader) ([]byte, error) {
	var frameHeader [ivfFrameHeaderSize]byte
	if _, err := io.ReadFull(r, frameHeader[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(frameHeader[0:4])
	if size == 0 {
		return nil, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// EncodeFrame feeds one JPEG-encoded image into the encoder's input.
func (e *vp8Encoder) EncodeFrame(jpegData []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("vp8 encoder closed")
	}
	_, err := e.stdin.Write(jpegData)
	return err
}

// NextFrame blocks until the next non-empty VP8 frame is available on the
// encoder's IVF output.
func (e *vp8Encoder) NextFrame() ([]byte, error) {
	for {
		frame, err := readIVFFrame(e.stdout)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			continue
		}
		return frame, nil
	}
}

// Close terminates the encoder subprocess and releases its pipes.
func (e *vp8Encoder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	return e.cmd.Wait()
}

