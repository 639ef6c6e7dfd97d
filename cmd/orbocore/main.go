// Command orbocore runs the surveillance streaming core: it reconciles
// Detector Workers against a SQLite-backed config store and serves MJPEG,
// WebRTC, and telemetry endpoints over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orbocore/internal/capture"
	"orbocore/internal/config"
	"orbocore/internal/detect"
	"orbocore/internal/mjpegstream"
	"orbocore/internal/predictor"
	"orbocore/internal/telemetry"
	"orbocore/internal/webrtcstream"
)

func main() {
	var (
		listenAddr     = flag.String("listen", ":8080", "HTTP listen address for the MJPEG/WebRTC/telemetry endpoints")
		dbPath         = flag.String("db", "orbo.db", "path to the SQLite config store")
		signallingAddr = flag.String("signalling-addr", "127.0.0.1:9999", "loopback address the WebRTC signalling listener binds to")
		predictorBin   = flag.String("predictor-bin", "orbo-predictor", "path to the subprocess predictor binary")
		reconcileEvery = flag.Duration("reconcile-interval", 2*time.Second, "how often the Detector Manager reconciles against the config store")
		shutdownBudget = flag.Duration("shutdown-timeout", 30*time.Second, "how long graceful shutdown waits for workers to stop")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[orbocore] ", log.Ltime)

	store, err := config.Open(*dbPath)
	if err != nil {
		logger.Fatalf("open config store %s: %v", *dbPath, err)
	}
	defer store.Close()

	streams := capture.NewStreamManager()
	telem := telemetry.NewHub()
	wsHub := telemetry.NewWSHub()

	newPred := func() predictor.Predictor {
		return predictor.NewSubprocessPredictor(*predictorBin)
	}
	manager := detect.NewManager(store, streams, telem, newPred)

	signalling, err := webrtcstream.NewListener(*signallingAddr, store, telem)
	if err != nil {
		logger.Fatalf("build webrtc signalling listener: %v", err)
	}
	go func() {
		if err := signalling.Serve(); err != nil {
			logger.Printf("[WebRTC] signalling listener stopped: %v", err)
		}
	}()

	stopReconciler := make(chan struct{})
	go runReconciler(logger, manager, wsHub, telem, *reconcileEvery, stopReconciler)

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: newRouter(store, streams, telem, manager, signalling, *signallingAddr, wsHub),
	}

	go func() {
		logger.Printf("listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	errc := make(chan os.Signal, 1)
	signal.Notify(errc, os.Interrupt, syscall.SIGTERM)
	sig := <-errc
	logger.Printf("received signal %s, shutting down", sig)

	close(stopReconciler)

	ctx, cancel := context.WithTimeout(context.Background(), *shutdownBudget)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	manager.StopAll()
	signalling.CloseAll()
	logger.Printf("shutdown complete")
}

// runReconciler periodically converges running Detector Workers to the
// config store's desired state and pushes fresh telemetry to any connected
// websocket dashboards between reconciliations.
func runReconciler(logger *log.Logger, manager *detect.Manager, wsHub *telemetry.WSHub, telem *telemetry.Hub, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := manager.Reconcile(nil); err != nil {
				logger.Printf("[Reconciler] reconcile failed: %v", err)
			}
			for id, status := range manager.GetStatus() {
				if !status.Alive {
					continue
				}
				wsHub.Broadcast(id, telem.Snapshot(id))
			}
		}
	}
}
