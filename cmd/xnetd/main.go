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

	"github.com/laik/xnet/internal/api"
	"github.com/laik/xnet/internal/config"
	"github.com/laik/xnet/internal/manager"
	"github.com/laik/xnet/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.Parse()

	log.Println("Starting xnetd...")

	// 1. Load configuration
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		log.Println("Configuration loaded successfully.")
	} else {
		cfg = config.Default()
		log.Println("No config file given, using defaults.")
	}

	// 2. Register engine metrics
	m := metrics.New()
	if cfg.Metrics.Enabled {
		m.MustRegister()
	}

	// 3. Create and start the engine manager
	mgr, err := manager.New(cfg, m)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	if err := mgr.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// 4. Start the HTTP API
	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewHandler(mgr).Router(cfg.Metrics.Enabled),
	}
	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	// 5. Wait for a shutdown signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("API server forced to shutdown: %v", err)
	}
	mgr.Stop()
	log.Println("Shutdown complete.")
}
