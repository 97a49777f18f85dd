// aquiferd is the tiered data access engine daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/engine"
	"github.com/hydronet/aquifer/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	archiveDir := flag.String("archive", "", "archive directory (overrides config)")
	warmPath := flag.String("warm", "", "warm store path (overrides config)")
	metricsListen := flag.String("metrics-listen", "", "prometheus listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *archiveDir != "" {
		cfg.Archive.Dir = *archiveDir
	}
	if *warmPath != "" {
		cfg.Warm.Path = *warmPath
	}
	if *metricsListen != "" {
		cfg.MetricsListen = *metricsListen
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log level: %v\n", err)
		os.Exit(1)
	}
	logging.Init(level, cfg.Logging.JSON)
	log := logging.Component("aquiferd")
	log.Info("starting", "version", Version, "config", *cfgPath)

	svc, err := engine.New(cfg)
	if err != nil {
		log.Error("create engine", "error", err)
		os.Exit(1)
	}

	if err := svc.Start(); err != nil {
		log.Error("start engine", "error", err)
		os.Exit(1)
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(svc.Registry(), promhttp.HandlerOpts{}))
		go func() {
			log.Info("metrics listener started", "addr", cfg.MetricsListen)
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				log.Error("metrics listener", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if err := svc.Stop(); err != nil {
		log.Warn("shutdown", "error", err)
	}
}
