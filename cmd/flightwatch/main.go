package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Dyrun/Anomaly-Detection/internal/cfg"
	"github.com/Dyrun/Anomaly-Detection/internal/engine"
	"github.com/Dyrun/Anomaly-Detection/internal/metrics"
	"github.com/Dyrun/Anomaly-Detection/internal/ml"
	"github.com/Dyrun/Anomaly-Detection/internal/notify"
	"github.com/Dyrun/Anomaly-Detection/internal/store"
	"github.com/Dyrun/Anomaly-Detection/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setLogLevel(c.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	startMetricsServer(ctx, c)

	archive := initializeArchive(c)
	if archive != nil {
		defer archive.Close()
	}

	detector := ml.NewDetector(ml.Config{
		Contamination: c.Contamination,
		Estimators:    c.Estimators,
		Seed:          c.Seed,
	}, metrics.NewWrapper(m))

	eng := engine.New(engine.Config{
		PollInterval:     c.PollInterval,
		ErrorBackoff:     c.ErrorBackoff,
		RetrainThreshold: c.RetrainThreshold,
		MaxBufferSize:    c.MaxBufferSize,
	},
		telemetry.NewSource(c.TelemetryPath),
		detector,
		store.NewAnomalyStore(c.AnomaliesPath),
		archive,
		initializeNotifier(c),
		m,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine stopped with error")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// initializeArchive opens the BoltDB archive if DATA_PATH is
// configured; the engine runs without history otherwise.
func initializeArchive(c cfg.Settings) *store.Archive {
	if c.DataPath == "" {
		return nil
	}
	archive, err := store.NewArchive(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("archive initialization failed, continuing without history")
		return nil
	}
	return archive
}

func initializeNotifier(c cfg.Settings) *notify.Notifier {
	if c.WebhookURL == "" {
		return nil
	}
	return notify.New(c.WebhookURL, c.WebhookTimeout)
}

// startMetricsServer exposes /metrics and /health for scraping.
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}
