package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"cyberdash/internal/api"
	"cyberdash/internal/config"
	"cyberdash/internal/engine"
	"cyberdash/internal/metrics"
	"cyberdash/internal/severity"
)

func main() {
	configPath := flag.String("config", os.Getenv("CYBERDASH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	filter, err := engine.NewFilterCache(cfg.Dashboard.FilterCacheSize)
	if err != nil {
		return err
	}
	filter.OnLookup = m.ObserveCacheLookup

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithRecorder(m),
		api.WithFilterCache(filter),
		api.WithTopN(cfg.Dashboard.TopN),
		api.WithPreviewLimit(cfg.Dashboard.PreviewLimit),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		api.WithLoader(func(ctx context.Context) (*engine.ColumnStore, error) {
			return engine.Load(ctx, cfg.Data.Source,
				engine.WithSQLTable(cfg.Data.SQLTable),
				engine.WithLogger(logger))
		}),
	}

	if cfg.Cache.RedisURL != "" {
		rc, err := api.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		defer rc.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, responses will not be shared", slog.Any("error", err))
		}
		cancel()
		opts = append(opts, api.WithResponseCache(rc))
	} else {
		opts = append(opts, api.WithResponseCache(api.NewMemoryCache(256, cfg.Cache.TTL)))
	}

	if cfg.Data.ModelPath != "" {
		model, err := loadModel(cfg.Data.ModelPath)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithModel(model))
	}

	// 1. Initialize Echo (Starts Instantly)
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.ERROR)
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	api.Configure(e, logger)

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(api.RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowedOrigins}))
	if cfg.Server.RateLimitRPS > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool { return c.Path() == "/healthz" || c.Path() == "/metrics" },
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.Server.RateLimitRPS),
				Burst:     cfg.Server.RateLimitBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		}))
	}

	// 2. Initialize Handler with no data
	// The API is now "live" but will return 503 (Loading) if hit
	h := api.NewHandler(opts...)
	h.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Load the table in the background
	go func() {
		t0 := time.Now()
		if err := h.LoadTable(ctx); err != nil {
			logger.Error("initial load failed; POST /api/reload to retry", slog.Any("error", err))
			return
		}
		logger.Info("API is fully ready", slog.Duration("took", time.Since(t0)))
	}()

	// 4. Start Server
	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func loadModel(path string) (*severity.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return severity.LoadModel(f)
}
