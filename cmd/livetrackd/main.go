// livetrackd polls the upstream position feed, maintains the per-aircraft
// trail store, and serves the result to the map dashboard over REST and
// websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rkpu-viewer/livetrack/internal/api"
	"github.com/rkpu-viewer/livetrack/internal/auth"
	"github.com/rkpu-viewer/livetrack/pkg/config"
	"github.com/rkpu-viewer/livetrack/pkg/feed"
	"github.com/rkpu-viewer/livetrack/pkg/track"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	mintToken := flag.String("mint-token", "", "Mint an API token for the named client and exit")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  livetrack daemon")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var authSvc *auth.Service
	if cfg.Server.JWTSecret != "" {
		authSvc = auth.NewService(auth.Config{Secret: cfg.Server.JWTSecret})
	}

	if *mintToken != "" {
		if authSvc == nil {
			log.Fatal("Cannot mint a token: no JWT secret configured (set LIVETRACK_JWT_SECRET)")
		}
		token, err := authSvc.GenerateToken(*mintToken)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Println(token)
		return
	}

	log.Printf("Configuration loaded from: %s", *configPath)
	log.Printf("Poll center: %.4f, %.4f (%.0f nm)",
		cfg.Track.CenterLat, cfg.Track.CenterLon, cfg.Track.RadiusNM)
	log.Printf("Poll interval: %v, trail window: %v, max %d points/trail",
		cfg.Track.PollInterval(), cfg.Track.TrailDuration(), cfg.Track.MaxTrailPoints)
	log.Printf("Trace backfill: first load %s, then %d per cycle",
		batchLabel(cfg.Track.TraceBatchFirstLoad), cfg.Track.TraceBatchPerCycle)
	if authSvc != nil {
		log.Println("API auth: bearer tokens required")
	} else {
		log.Println("API auth: disabled (no JWT secret configured)")
	}

	feedClient := feed.NewClient(feed.Config{
		PositionURL:       cfg.Feed.PositionURL,
		TraceURL:          cfg.Feed.TraceURL,
		RequestsPerSecond: cfg.Feed.RequestsPerSecond,
		Timeout:           cfg.Feed.Timeout(),
	}, log.Default())

	engine := track.NewEngine(track.Config{
		CenterLat:           cfg.Track.CenterLat,
		CenterLon:           cfg.Track.CenterLon,
		RadiusNM:            cfg.Track.RadiusNM,
		PollInterval:        cfg.Track.PollInterval(),
		TrailDuration:       cfg.Track.TrailDuration(),
		MaxTrailPoints:      cfg.Track.MaxTrailPoints,
		TraceBatchFirstLoad: cfg.Track.TraceBatchFirstLoad,
		TraceBatchPerCycle:  cfg.Track.TraceBatchPerCycle,
		BackoffBase:         cfg.Track.BackoffBase(),
		BackoffMax:          cfg.Track.BackoffMax(),
	}, feedClient, log.Default())

	srv := api.NewServer(engine, engine.Updates(), api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AuthService:    authSvc,
	})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go srv.Hub().Run(hubCtx)

	engine.Start()
	log.Println("✓ Tracking engine started")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("📡 API listening on http://%s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("\nReceived signal: %v", sig)
	log.Println("Shutting down gracefully...")

	engine.Stop()
	hubCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✓ livetrack daemon stopped")
}

func batchLabel(n int) string {
	if n <= 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", n)
}
