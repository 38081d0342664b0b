package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/satindergrewal/tinnitone/internal/audio"
	"github.com/satindergrewal/tinnitone/internal/catalog"
	"github.com/satindergrewal/tinnitone/internal/config"
	"github.com/satindergrewal/tinnitone/internal/schedule"
	"github.com/satindergrewal/tinnitone/internal/session"
	"github.com/satindergrewal/tinnitone/internal/stream"
	"github.com/satindergrewal/tinnitone/internal/synth"
	"github.com/satindergrewal/tinnitone/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("tinnitone starting up...")

	// Metrics (optional)
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics {
		shutdown, h, err := telemetry.Setup(ctx, "tinnitone")
		if err != nil {
			log.Fatalf("Telemetry setup failed: %v", err)
		}
		defer shutdown(context.Background())
		metrics = telemetry.New()
		metricsHandler = h
	}

	// Live graph: renders 20ms frames in real time
	graph := audio.NewGraph(audio.SampleRate, cfg.Gain)
	go graph.Run(ctx)

	fanout := stream.NewFanout(stream.DefaultBuffer)
	go fanout.Run(ctx, graph.Frames())

	if cfg.Device {
		dev, err := stream.OpenDevice(fanout, audio.SampleRate)
		if err != nil {
			log.Printf("Sound card output unavailable: %v", err)
		} else {
			defer dev.Close()
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	log.Printf("Stimulus seed: %d", seed)

	sched := schedule.New(graph, synth.NewSource(seed), schedule.Config{
		LookAhead:       cfg.LookAhead,
		PollInterval:    cfg.PollInterval,
		ChunkDuration:   synth.ChunkDuration,
		ControlInterval: cfg.ControlInterval.Seconds(),
		SampleAccurate:  cfg.SampleAccurate,
	})
	sched.SetMetrics(metrics)

	ctrl := session.New(graph, sched, cfg.SessionDuration)
	go ctrl.Run(ctx)

	// Catalog of pre-rendered files (optional)
	var store *catalog.Store
	if cfg.CatalogPath != "" {
		var err error
		store, err = catalog.Open(ctx, cfg.CatalogPath)
		if err != nil {
			log.Fatalf("Catalog: %v", err)
		}
		defer store.Close()
	}

	webrtcHandler := stream.NewWebRTCHandler(fanout, cfg.OpusBitrate)
	defer webrtcHandler.Close()

	srv := &server{
		ctrl:    ctrl,
		fanout:  fanout,
		mp3:     stream.NewHTTPHandler(fanout, cfg.FFmpegPath, cfg.StreamKbps, audio.SampleRate),
		webrtc:  webrtcHandler,
		catalog: store,
		metrics: metricsHandler,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: srv.routes()}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("tinnitone live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
