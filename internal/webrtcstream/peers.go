package webrtcstream

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v3"

	"orbocore/internal/telemetry"
)

// lowLatencyConfiguration is the default peer connection configuration:
// no ICE servers (LAN-only deployments do not need STUN/TURN), RTCP mux
// required, bundling maximized, and no ICE candidate pre-gathering pool, all
// carried over from the original implementation's low-latency posture.
var lowLatencyConfiguration = webrtc.Configuration{
	ICEServers:           []webrtc.ICEServer{},
	RTCPMuxPolicy:        webrtc.RTCPMuxPolicyRequire,
	BundlePolicy:         webrtc.BundlePolicyMaxBundle,
	ICECandidatePoolSize: 0,
}

// peerRegistry holds the one-peer-connection-per-detector and
// one-track-per-detector state shared by the signalling listener. It is not
// exported: callers reach it only through Listener.
type peerRegistry struct {
	mu     sync.Mutex
	peers  map[string]*webrtc.PeerConnection
	tracks map[string]*DetectorTrack
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{
		peers:  make(map[string]*webrtc.PeerConnection),
		tracks: make(map[string]*DetectorTrack),
	}
}

func (p *peerRegistry) trackFor(detectorID string, telem *telemetry.Hub) (*DetectorTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tracks[detectorID]; ok {
		return t, nil
	}
	t, err := NewDetectorTrack(detectorID, telem)
	if err != nil {
		return nil, err
	}
	t.Start()
	p.tracks[detectorID] = t
	return t, nil
}

func (p *peerRegistry) newPeerConnection(api *webrtc.API, detectorID string, track *DetectorTrack) (*webrtc.PeerConnection, error) {
	pc, err := api.NewPeerConnection(lowLatencyConfiguration)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	if _, err := pc.AddTrack(track.Track()); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[WebRTC] detector %s connection state: %s", detectorID, state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateDisconnected {
			p.mu.Lock()
			if current, ok := p.peers[detectorID]; ok && current == pc {
				delete(p.peers, detectorID)
			}
			p.mu.Unlock()
			pc.Close()
		}
	})

	p.mu.Lock()
	if old, ok := p.peers[detectorID]; ok {
		old.Close()
	}
	p.peers[detectorID] = pc
	p.mu.Unlock()

	return pc, nil
}

func (p *peerRegistry) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, pc := range p.peers {
		pc.Close()
		delete(p.peers, id)
	}
	for id, t := range p.tracks {
		t.Stop()
		delete(p.tracks, id)
	}
}
