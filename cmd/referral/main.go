// Package main запускает HTTP-сервер реферального сервиса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/referral-system/internal/auth"
	"github.com/mmeshcher/referral-system/internal/cache"
	"github.com/mmeshcher/referral-system/internal/config"
	"github.com/mmeshcher/referral-system/internal/handler"
	"github.com/mmeshcher/referral-system/internal/middleware"
	"github.com/mmeshcher/referral-system/internal/referralcode"
	"github.com/mmeshcher/referral-system/internal/repository"
	"github.com/mmeshcher/referral-system/internal/repository/memory"
	"github.com/mmeshcher/referral-system/internal/service"
)

const (
	limiterCleanupInterval = time.Minute
	limiterIdleTimeout     = 10 * time.Minute
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	codes, err := referralcode.NewGenerator(cfg.CodeLength, cfg.CodePrefixLength)
	if err != nil {
		sugar.Fatalw("referral code generator error", "error", err.Error())
	}

	var store repository.Store
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresStorage(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		store = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		store = memory.NewStore()
	}

	var statsCache service.StatsCache
	if cfg.RedisAddress != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedisStatsCache(initCtx, cfg.RedisAddress, cfg.RedisPassword, cfg.StatsCacheTTL)
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rc.Close()
		statsCache = rc
	}

	svc := service.NewService(store, codes, statsCache, logger, service.Config{
		Reward:          cfg.ReferralReward,
		CodeMaxAttempts: cfg.CodeMaxAttempts,
	})
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is empty, tokens will not survive a restart")
	}
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	h := handler.NewHandler(svc, logger, issuer, limiter)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		limiter.Run(ctx, limiterCleanupInterval, limiterIdleTimeout)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting referral server",
			"addr", cfg.RunAddress,
			"reward", cfg.ReferralReward,
			"stats_cache", cfg.RedisAddress != "",
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
