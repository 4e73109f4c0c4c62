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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/twpayne/go-heightmap"
	"github.com/twpayne/go-heightmap/internal/config"
	"github.com/twpayne/go-heightmap/internal/geocode"
	"github.com/twpayne/go-heightmap/internal/hub"
	"github.com/twpayne/go-heightmap/internal/opentopo"
	"github.com/twpayne/go-heightmap/internal/server"
	"github.com/twpayne/go-heightmap/internal/storage"
	"github.com/twpayne/go-heightmap/internal/version"
)

func newLogger(logConfig config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logConfig.Level)
	if err != nil {
		return nil, err
	}
	var zapConfig zap.Config
	switch logConfig.Format {
	case "console":
		zapConfig = zap.NewDevelopmentConfig()
	default:
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}

func run() error {
	configFile := flag.String("config", "config.toml", "config file")
	flag.Parse()

	cfg, err := config.Load(os.Getenv, "config/config.toml", *configFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.Server.DataDir, storage.WithLogger(logger))
	if err != nil {
		return err
	}

	geocoder, err := geocode.NewClient(cfg.Geocode.BaseURL,
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithTimeout(cfg.Geocode.Timeout.Duration),
		geocode.WithCacheSize(cfg.Geocode.CacheSize),
		geocode.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	options := []server.Option{
		server.WithLogger(logger),
		server.WithRasterSource(heightmap.NewGeoTIFFSource()),
		server.WithGeocoder(geocoder),
		server.WithDEMDownloader(opentopo.NewClient(cfg.OpenTopo.BaseURL,
			opentopo.WithAPIKey(cfg.OpenTopo.APIKey),
			opentopo.WithTimeout(cfg.OpenTopo.Timeout.Duration),
			opentopo.WithLogger(logger),
		)),
		server.WithMaxConcurrentConversions(cfg.Server.MaxConcurrentConversions),
		server.WithInfoCacheSize(cfg.Server.InfoCacheSize),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		server.WithDefaultDEMType(cfg.OpenTopo.DefaultDEMType),
		server.WithMaxRadiusKM(cfg.OpenTopo.MaxRadiusKM),
	}
	if cfg.Hub.BaseURL != "" {
		options = append(options, server.WithHub(hub.NewClient(cfg.Hub.BaseURL,
			hub.WithAPIKey(cfg.Hub.APIKey),
			hub.WithTimeout(cfg.Hub.Timeout.Duration),
			hub.WithWebhookPaths(cfg.Hub.ChatPath, cfg.Hub.DataFetchPath),
			hub.WithLogger(logger),
		)))
	}
	s, err := server.New(store, options...)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Server.Listen),
			zap.String("version", version.Version),
			zap.String("gitSHA", version.GitSHA),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		return httpServer.Close()
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
