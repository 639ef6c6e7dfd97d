package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"orbocore/internal/capture"
	"orbocore/internal/config"
	"orbocore/internal/detect"
	"orbocore/internal/mjpegstream"
	"orbocore/internal/telemetry"
	"orbocore/internal/webrtcstream"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func newRouter(store config.Store, streams *capture.StreamManager, telem *telemetry.Hub, manager *detect.Manager, signalling *webrtcstream.Listener, signallingAddr string, wsHub *telemetry.WSHub) http.Handler {
	mjpeg := mjpegstream.NewHandler(store, streams, telem, manager)
	offer := webrtcstream.NewOfferHandler(signallingAddr)

	r := chi.NewRouter()
	r.Use(accessLog)

	r.Get("/cctv/stream/{camID}", mjpeg.ServeCCTV)
	r.Get("/detector/stream_detector/{detID}", mjpeg.ServeDetectorStream)
	r.Get("/detector/fps_info/{detID}", mjpeg.ServeFPSInfo)
	r.Get("/detector/status", mjpegstream.ServeStatus(manager))
	r.Post("/detector/webrtc_offer/{detID}", offer.ServeHTTP)
	r.Get("/detector/telemetry_ws/{detID}", telemetryWebSocketHandler(wsHub))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	return r
}

// accessLog is a minimal bracket-tagged request logger matching the
// [Component] prefix convention used throughout the rest of the core
// instead of pulling in a dedicated HTTP logging middleware.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[HTTP] %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

// telemetryWebSocketHandler implements the supplemental GET
// /detector/telemetry_ws/<id> endpoint: it upgrades to a websocket and
// registers the connection with the Hub so the reconciler loop's periodic
// broadcast reaches it.
func telemetryWebSocketHandler(hub *telemetry.WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detectorID := chi.URLParam(r, "detID")

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(detectorID, conn)

		defer hub.Unregister(detectorID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
