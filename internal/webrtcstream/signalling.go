package webrtcstream

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/pion/webrtc/v3"

	"orbocore/internal/config"
	"orbocore/internal/telemetry"
)

// sdpMessage is the wire shape exchanged with the signalling listener,
// length-prefixed the same way internal/predictor frames its subprocess
// protocol: a 4-byte big-endian length followed by that many JSON bytes.
type sdpMessage struct {
	SDP   string `json:"sdp"`
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// Listener is the loopback TCP signalling endpoint described in the spec:
// it owns peer-connection construction and runs on its own background
// goroutine, independent of the HTTP server's request-handling goroutines.
// The HTTP offer endpoint is a thin client of this listener.
type Listener struct {
	addr   string
	store  config.Store
	telem  *telemetry.Hub
	api    *webrtc.API
	peers  *peerRegistry
}

// NewListener constructs a signalling listener bound to addr (e.g.
// "127.0.0.1:9999"). Call Serve to start accepting connections.
func NewListener(addr string, store config.Store, telem *telemetry.Hub) (*Listener, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register VP8 codec: %w", err)
	}

	return &Listener{
		addr:  addr,
		store: store,
		telem: telem,
		api:   webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		peers: newPeerRegistry(),
	}, nil
}

// Serve runs the accept loop until the listener is closed. Intended to run
// on a dedicated background goroutine for the lifetime of the process.
func (l *Listener) Serve() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}
	defer ln.Close()

	log.Printf("[WebRTC] signalling listener started on %s", l.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	offer, err := readSDPMessage(conn)
	if err != nil {
		log.Printf("[WebRTC] signalling read failed: %v", err)
		return
	}

	detectorID, ok := detectorIDFromSDP(offer.SDP)
	if !ok {
		writeSDPMessage(conn, sdpMessage{Error: "missing detector_id in offer"})
		return
	}

	detector, err := l.store.GetDetector(detectorID)
	if err != nil || detector == nil || !detector.Running {
		writeSDPMessage(conn, sdpMessage{Error: "detector is off or does not exist"})
		return
	}

	track, err := l.peers.trackFor(detectorID, l.telem)
	if err != nil {
		log.Printf("[WebRTC] failed to create track for detector %s: %v", detectorID, err)
		writeSDPMessage(conn, sdpMessage{Error: "internal server error"})
		return
	}

	pc, err := l.peers.newPeerConnection(l.api, detectorID, track)
	if err != nil {
		log.Printf("[WebRTC] failed to create peer connection for detector %s: %v", detectorID, err)
		writeSDPMessage(conn, sdpMessage{Error: "internal server error"})
		return
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		log.Printf("[WebRTC] SetRemoteDescription failed for detector %s: %v", detectorID, err)
		writeSDPMessage(conn, sdpMessage{Error: "internal server error"})
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("[WebRTC] CreateAnswer failed for detector %s: %v", detectorID, err)
		writeSDPMessage(conn, sdpMessage{Error: "internal server error"})
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Printf("[WebRTC] SetLocalDescription failed for detector %s: %v", detectorID, err)
		writeSDPMessage(conn, sdpMessage{Error: "internal server error"})
		return
	}

	writeSDPMessage(conn, sdpMessage{SDP: rewriteForLowLatency(answer.SDP, detectorID), Type: "answer"})
	log.Printf("[WebRTC] answered offer for detector %s", detectorID)
}

// CloseAll tears down every active peer connection and track.
func (l *Listener) CloseAll() {
	l.peers.closeAll()
}

func readSDPMessage(r io.Reader) (sdpMessage, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return sdpMessage{}, fmt.Errorf("read length header: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return sdpMessage{}, fmt.Errorf("read body: %w", err)
	}
	var msg sdpMessage
	if err := json.Unmarshal(buf, &msg); err != nil {
		return sdpMessage{}, fmt.Errorf("decode body: %w", err)
	}
	return msg, nil
}

func writeSDPMessage(w io.Writer, msg sdpMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}
