package telemetry

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TelemetryMessage is what gets pushed to websocket subscribers of a
// detector's telemetry channel.
type TelemetryMessage struct {
	DetectorID     string  `json:"detector_id"`
	FPS            float64 `json:"fps"`
	InferenceMs    float64 `json:"inference_time_ms"`
	DetectionCount int     `json:"detections"`
	Timestamp      int64   `json:"timestamp"`
}

// WSHub fans telemetry snapshots out to any number of websocket clients
// subscribed to a given detector id. It is the supplemental push-based
// sibling of the poll-based /detector/fps_info endpoint.
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]bool
}

// NewWSHub creates an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[string]map[*websocket.Conn]bool)}
}

// Register subscribes conn to detectorID's telemetry updates.
func (h *WSHub) Register(detectorID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[detectorID] == nil {
		h.clients[detectorID] = make(map[*websocket.Conn]bool)
	}
	h.clients[detectorID][conn] = true
	log.Printf("[Telemetry] client registered for detector %s (total: %d)", detectorID, len(h.clients[detectorID]))
}

// Unregister removes conn from detectorID's subscriber set.
func (h *WSHub) Unregister(detectorID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[detectorID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, detectorID)
		}
	}
}

// HasClients reports whether detectorID has any active subscribers.
func (h *WSHub) HasClients(detectorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[detectorID]
	return ok && len(conns) > 0
}

// Broadcast pushes snapshot to every subscriber of detectorID. Subscribers
// whose connection write fails are unregistered and closed, matching the
// teacher's dead-connection cleanup behavior.
func (h *WSHub) Broadcast(detectorID string, s Snapshot) {
	if !h.HasClients(detectorID) {
		return
	}

	msg := TelemetryMessage{
		DetectorID:     detectorID,
		FPS:            s.FPS,
		InferenceMs:    float64(s.InferenceTime.Microseconds()) / 1000.0,
		DetectionCount: s.DetectionCount,
		Timestamp:      s.LastUpdate.Unix(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Telemetry] marshal telemetry message: %v", err)
		return
	}

	h.mu.RLock()
	conns := h.clients[detectorID]
	h.mu.RUnlock()

	for conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[Telemetry] write failed, dropping subscriber: %v", err)
			h.Unregister(detectorID, conn)
			conn.Close()
		}
	}
}
