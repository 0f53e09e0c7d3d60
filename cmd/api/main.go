package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsivs "github.com/aws/aws-sdk-go-v2/service/ivs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/streamhealth/internal/app/migrate"
	httpx "github.com/splax/streamhealth/internal/http"
	"github.com/splax/streamhealth/internal/provider/cloudwatch"
	"github.com/splax/streamhealth/internal/provider/ivs"
	"github.com/splax/streamhealth/internal/repository/postgres"
	"github.com/splax/streamhealth/internal/service/metrics"
	"github.com/splax/streamhealth/internal/service/streamaction"
	"github.com/splax/streamhealth/pkg/config"
	"github.com/splax/streamhealth/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Error("JWT_SECRET must be set")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	runner.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Error("failed to load aws configuration", "error", err)
		os.Exit(1)
	}
	ivsClient := ivs.New(awsivs.NewFromConfig(awsCfg))
	provider := cloudwatch.New(awscloudwatch.NewFromConfig(awsCfg), cfg.MetricsNamespace)

	repo := postgres.New(pool)
	metricsSvc := metrics.New(repo, provider, ivsClient, log, metrics.Options{
		LiveLookback: cfg.LiveLookback,
		Registerer:   prometheus.DefaultRegisterer,
	})
	actionSvc := streamaction.New(ivsClient, log, streamaction.Options{
		MaxAttempts: cfg.StreamActionMaxAttempts,
		BaseDelay:   cfg.StreamActionBaseDelay,
		Retryable:   ivs.Retryable,
	})

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(ctx, addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, metricsSvc, actionSvc, httpx.Options{
		JWTSecret:        cfg.JWTSecret,
		LivePushInterval: cfg.LivePushInterval,
		Limiter:          limiter,
		DBHealth:         repo.Ping,
		Registerer:       prometheus.DefaultRegisterer,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
