// Sparkle Dashboard
//
// In-memory dashboard for local development:
// - single-use link codes printed at startup
// - signed device API (ping, folder listing, revisions, getFile, putFile)
// - optional Prometheus metrics listener
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sparkleshare/sparkleshare-go/internal/config"
	"github.com/sparkleshare/sparkleshare-go/internal/dashboard"
	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "config file")
	codes := flag.Int("codes", 1, "number of link codes to issue at startup")
	seed := flag.Bool("seed", true, "create demo projects")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	if err := logging.Init(cfg.LoggingOptions()); err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	auth := dashboard.NewAuth(cfg.Dashboard.JWTSecret, cfg.Dashboard.CodeTTL)
	content := dashboard.NewContent()
	if *seed {
		if err := dashboard.Seed(content); err != nil {
			logging.Fatal("seed failed", logging.Err(err))
		}
	}
	srv := dashboard.NewServer(auth, content, dashboard.DefaultMaxUploadSize)

	for i := 0; i < *codes; i++ {
		code := auth.IssueCode()
		logging.Info("link code issued",
			logging.String("code", code),
			logging.Duration("ttl", cfg.Dashboard.CodeTTL))
	}

	var metricsServer *http.Server
	if cfg.Dashboard.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.Dashboard.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("metrics server listening", logging.String("addr", cfg.Dashboard.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", logging.Err(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Dashboard.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
		if metricsServer != nil {
			metricsServer.Shutdown(ctx)
		}
	}()

	logging.Info("dashboard listening", logging.String("addr", cfg.Dashboard.ListenAddr))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server error", logging.Err(err))
	}
	logging.Info("dashboard stopped")
}
