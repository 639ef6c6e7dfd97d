package webrtcstream

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const offerDialTimeout = 5 * time.Second

// OfferHandler implements POST /detector/webrtc_offer/<id>. It does not
// construct peer connections itself: it is a thin TCP client of the
// signalling Listener, exactly mirroring how the original HTTP route dialed
// out to its loopback signalling process and relayed the answer back.
type OfferHandler struct {
	signallingAddr string
}

// NewOfferHandler builds a handler that proxies offers to the signalling
// listener bound at signallingAddr (e.g. "127.0.0.1:9999").
func NewOfferHandler(signallingAddr string) *OfferHandler {
	return &OfferHandler{signallingAddr: signallingAddr}
}

func (h *OfferHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	detectorID := chi.URLParam(r, "detID")

	var body struct {
		SDP  string `json:"sdp"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SDP == "" || body.Type == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	conn, err := net.DialTimeout("tcp", h.signallingAddr, offerDialTimeout)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(offerDialTimeout))

	offer := sdpMessage{SDP: withDetectorID(body.SDP, detectorID), Type: body.Type}
	if err := writeSDPMessage(conn, offer); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	answer, err := readSDPMessage(conn)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "signalling timeout")
		return
	}
	if answer.Error != "" {
		writeJSONError(w, http.StatusInternalServerError, answer.Error)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"sdp":  answer.SDP,
		"type": answer.Type,
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
