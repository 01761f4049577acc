package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verigate/verigate/internal/config"
	"github.com/verigate/verigate/internal/database"
	"github.com/verigate/verigate/internal/geo"
	"github.com/verigate/verigate/internal/logging"
	"github.com/verigate/verigate/internal/server"
)

const cleanupInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	var resolver geo.Resolver = geo.NoopResolver{}
	if cfg.GeoIPDBPath != "" {
		mm, err := geo.Open(cfg.GeoIPDBPath)
		if err != nil {
			logger.Warn("geoip database unavailable, falling back to unknown geolocation", "error", err)
		} else {
			defer mm.Close()
			resolver = mm
		}
	}

	srv := server.New(db, cfg, resolver, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.Pipeline().Start(ctx)

	// Periodic housekeeping: record expiry for stale pending sessions and
	// rate-limiter entry cleanup. Correctness does not depend on either.
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := srv.SessionStore().ExpireStale(); err != nil {
					logger.Error("expire stale sessions", "error", err)
				} else if n > 0 {
					logger.Info("expired stale sessions", "count", n)
				}
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("verigate listening", "port", cfg.Port, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}

	// In-flight deliveries may be abandoned here without data loss; the
	// durable write at completion already happened.
	srv.Pipeline().Stop()
}
