package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/photostamp-session/internal/clients"
	"github.com/pribylovaa/photostamp-session/internal/config"
	"github.com/pribylovaa/photostamp-session/internal/metrics"
	"github.com/pribylovaa/photostamp-session/internal/pkg/sealbox"
	"github.com/pribylovaa/photostamp-session/internal/service"
	"github.com/pribylovaa/photostamp-session/internal/storage"
	"github.com/pribylovaa/photostamp-session/internal/storage/file"
	"github.com/pribylovaa/photostamp-session/internal/storage/redis"
)

// app — корень композиции одной команды CLI.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store storage.CredentialStore
	gw    *clients.Gateway
	repo  *service.Repository

	metricsSrv *http.Server
}

// loadDotEnv подгружает .env из рабочей директории, если он есть.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}

	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	return nil
}

// newApp читает конфигурацию, открывает хранилище и собирает Gateway.
func newApp(ctx context.Context, configPath string) (*app, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Debug("config_loaded", slog.String("env", cfg.Env), slog.String("driver", cfg.Storage.Driver))

	storeCtx, storeCancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := openStore(storeCtx, cfg.Storage)
	storeCancel()
	if err != nil {
		log.Error("storage_open_failed", slog.String("err", err.Error()))
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: store}

	var m *metrics.Session
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		a.serveMetrics(reg)
	}

	opts := clients.OptionsFromConfig(cfg)
	opts.Logger = log
	opts.Metrics = m

	gw, err := clients.New(store, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a.gw = gw
	a.repo = service.FromGateway(store, gw, m)

	return a, nil
}

// openStore выбирает реализацию CredentialStore по драйверу.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.CredentialStore, error) {
	params := sealbox.Params{
		Time:      cfg.Argon.Time,
		MemoryKiB: cfg.Argon.MemoryKiB,
		Threads:   cfg.Argon.Threads,
	}

	switch cfg.Driver {
	case config.DriverRedis:
		return redis.Open(ctx, cfg.RedisURL, cfg.Prefix, cfg.Passphrase, params)
	case config.DriverFile:
		return file.Open(cfg.Path, cfg.Passphrase, params)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func (a *app) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.Info("metrics_listen_start", slog.String("addr", a.metricsSrv.Addr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics_serve_failed", slog.String("err", err.Error()))
		}
	}()
}

// Close освобождает соединения и хранилище.
func (a *app) Close() {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	if a.gw != nil {
		_ = a.gw.Close()
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage_close_failed", slog.String("err", err.Error()))
	}
}
