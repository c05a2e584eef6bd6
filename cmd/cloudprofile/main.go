// Command cloudprofile runs the profile service: the public API on one
// port and the health/metrics endpoints on another so probes and
// scrapers never compete with user traffic.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudprofile/hub/pkg/api"
	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/config"
	"github.com/cloudprofile/hub/pkg/middleware"
	"github.com/cloudprofile/hub/pkg/observability"
	"github.com/cloudprofile/hub/pkg/storage/postgres"
)

// dbStatsInterval is how often the connection pool gauges refresh.
const dbStatsInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cloudprofile: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	var output io.Writer = os.Stdout
	if cfg.Observability.LogFile != "" {
		file, err := os.OpenFile(cfg.Observability.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer file.Close()
		output = io.MultiWriter(os.Stdout, file)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, output)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(rootCtx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("init opentelemetry: %w", err)
	}

	store, err := postgres.NewPostgresStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(rootCtx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("postgres storage ready")

	s3Client, err := postgres.NewS3Client(cfg.Storage)
	if err != nil {
		return fmt.Errorf("connect s3: %w", err)
	}
	logger.WithField("bucket", cfg.Storage.S3Bucket).Info("object storage ready")

	// Redis is optional: without it the service runs with rate
	// limiting disabled rather than refusing to start.
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, rate limiting disabled")
			redisClient = nil
		} else {
			logger.Info("redis ready")
		}
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("init token manager: %w", err)
	}
	accounts := auth.NewService(store, auth.NewPasswordHasher(), tokens)
	gate := middleware.NewAuthMiddleware(tokens, store)

	var loginLimiter *middleware.RateLimiter
	if redisClient != nil {
		loginLimiter = middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Auth.LoginRateLimit,
			WindowDuration:    time.Minute,
		}, "login")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		gate.WithMetrics(metrics)
		if loginLimiter != nil {
			loginLimiter.WithMetrics(metrics)
		}
	}

	server := api.NewServer(api.Deps{
		Accounts:       accounts,
		Store:          store,
		Objects:        s3Client,
		Gate:           gate,
		LoginLimiter:   loginLimiter,
		Logger:         logger,
		Metrics:        metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        cfg.Observability.OTelServiceVersion,
		Environment:    cfg.Server.Environment,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsMux := http.NewServeMux()
	checker := observability.NewHealthChecker(store.GetDB(), redisClient, s3Client.HealthCheck)
	observability.RegisterHealthRoutes(opsMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	opsServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: opsMux,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(opsServer.Shutdown)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return store.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	group, gctx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		logger.WithField("addr", opsServer.Addr).Info("health server listening")
		if err := opsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if metrics != nil {
		group.Go(func() error {
			ticker := time.NewTicker(dbStatsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					stats := store.GetDB().Stats()
					metrics.DBConnectionsActive.Set(float64(stats.InUse))
					metrics.DBConnectionsIdle.Set(float64(stats.Idle))
				}
			}
		})
	}

	group.Go(func() error {
		sigCtx, stop := signal.NotifyContext(gctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-sigCtx.Done()

		// Unblocks the stats loop before the servers drain.
		cancel()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		return shutdown.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
