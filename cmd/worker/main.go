package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FMX/RemoteShuffleService-1/pkg/config"
	"github.com/FMX/RemoteShuffleService-1/pkg/congestion"
	"github.com/FMX/RemoteShuffleService-1/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to worker config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := buildStore(ctx, cfg.Store, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	controller := congestion.NewController(congestion.ControllerConfig{
		Window:              cfg.Congestion.Window,
		WorkerHighWatermark: cfg.Congestion.WorkerHighWatermark,
		WorkerLowWatermark:  cfg.Congestion.WorkerLowWatermark,
		UserHighWatermark:   cfg.Congestion.UserHighWatermark,
		CheckInterval:       cfg.Congestion.CheckInterval,
		Logger:              logger.With("component", "congestion"),
	}, registry)

	startMetricsServer(ctx, cfg.MetricsAddr, registry, store, logger)

	logger.Info("shuffle worker started",
		"metrics_addr", cfg.MetricsAddr,
		"chunk_size", cfg.Writer.ChunkSize,
		"store", storeKind(cfg.Store))

	controller.Run(ctx)
	logger.Info("shuffle worker stopped")
}

func buildStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) storage.RemoteStore {
	if cfg.Bucket == "" || cfg.Region == "" {
		logger.Warn("missing S3 configuration; falling back to in-memory store")
		return storage.NewMemoryStore()
	}
	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:         cfg.Bucket,
		Region:         cfg.Region,
		Endpoint:       cfg.Endpoint,
		ForcePathStyle: cfg.ForcePathStyle,
		KMSKeyARN:      cfg.KMSKeyARN,
	})
	if err != nil {
		logger.Error("failed to create S3 store; using in-memory", "error", err)
		return storage.NewMemoryStore()
	}
	return store
}

func storeKind(cfg config.StoreConfig) string {
	if cfg.Bucket == "" || cfg.Region == "" {
		return "memory"
	}
	return "s3"
}

func startMetricsServer(ctx context.Context, addr string, registry *prometheus.Registry, store storage.RemoteStore, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		probeCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := store.Exists(probeCtx, ".shuffle-worker-probe"); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("store unreachable\n"))
			return
		}
		w.Write([]byte("ready\n"))
	})
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true,
	})
	return slog.New(handler).With("component", "worker")
}
