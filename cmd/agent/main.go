// cmd/agent is the main entrypoint for one Edge Agent node.
//
// Configuration is entirely via environment variables so the same binary
// serves any sensor node; see internal/config for the full list.
//
// Example:
//
//	NODE_ID=pi-03 NODE_TYPE=pi \
//	EST_URL=http://localhost:9001/estimate \
//	DET_URL=http://localhost:9002/detect \
//	FINE_URL=http://localhost:9003/fine \
//	PEERS=http://jetson-01:8080,http://jetson-02:8080 \
//	COLLECTOR_URL=http://collector:9100 \
//	./agent
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"edge-agent/internal/api"
	"edge-agent/internal/config"
	"edge-agent/internal/orchestrator"
	"edge-agent/internal/peers"
	"edge-agent/internal/stagecall"
	"edge-agent/internal/store"
	"edge-agent/internal/uploader"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	startedTS := float64(time.Now().Unix())

	// ── Storage ──────────────────────────────────────────────────────────
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	// ── Peers & stage calls ─────────────────────────────────────────────
	caller := stagecall.New(cfg.EstURL, cfg.DetURL, cfg.FineURL, cfg.HTTPTimeout, cfg.ExecuteTimeout)
	pm := peers.New(cfg.Peers, cfg.HTTPTimeout, cfg.PeerRefreshSeconds)

	// ── Orchestrator ─────────────────────────────────────────────────────
	orc := orchestrator.New(cfg.NodeID, st, caller, pm)

	// ── Uploader ─────────────────────────────────────────────────────────
	up := uploader.New(cfg.NodeID, cfg.NodeType, st, orc, cfg.CollectorUploadURL(),
		cfg.ExecuteTimeout, cfg.UploaderCheckSeconds, cfg.UploadEvery)

	// ── HTTP server ──────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(cfg.NodeID, cfg.NodeType, cfg.SlotSeconds, startedTS, orc, pm)
	handler.Register(router)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	go orc.Run(ctx)
	go pm.Run(ctx)
	go up.Run(ctx)

	go func() {
		log.Printf("agent %s (%s) listening on %s", cfg.NodeID, cfg.NodeType, cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Background snapshot every 60 seconds, in addition to the store's own
	// every-500-entries snapshot, so a quiet node still checkpoints its WAL.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Snapshot(); err != nil {
					log.Printf("snapshot error: %v", err)
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down agent %s", cfg.NodeID)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := st.Snapshot(); err != nil {
		log.Printf("final snapshot error: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
