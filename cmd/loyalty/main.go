// Package main запускает HTTP-сервер сервиса лояльности.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loyalty-ledger/internal/cache"
	"github.com/mmeshcher/loyalty-ledger/internal/config"
	"github.com/mmeshcher/loyalty-ledger/internal/feed"
	"github.com/mmeshcher/loyalty-ledger/internal/handler"
	"github.com/mmeshcher/loyalty-ledger/internal/middleware"
	"github.com/mmeshcher/loyalty-ledger/internal/notify"
	"github.com/mmeshcher/loyalty-ledger/internal/relay"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
	"github.com/mmeshcher/loyalty-ledger/internal/service"
)

// store объединяет операции, нужные сервису и ретранслятору событий.
type store interface {
	service.Repository
	relay.Store
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo store
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory store")
		repo = repository.NewMemoryRepository()
	}

	var leaderboardCache service.LeaderboardCache
	if cfg.RedisAddress != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddress)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rc.Close()
		leaderboardCache = rc
	}

	svc := service.NewService(repo, leaderboardCache, logger)
	defer svc.Close()

	hub := feed.NewHub(logger)

	outbox := relay.New(repo, logger)
	outbox.Add("feed", hub, nil)

	if len(cfg.KafkaBrokers) > 0 {
		kp, err := relay.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			sugar.Fatalw("kafka initialization error", "error", err.Error())
		}
		defer kp.Close()
		outbox.Add("kafka", kp, nil)
	}

	if cfg.NotifyAddress != "" {
		outbox.Add("notify", notify.NewClient(cfg.NotifyAddress), notify.Notifiable)
	}

	if cfg.AdminPINHash == "" {
		sugar.Warn("ADMIN_PIN_HASH is empty, admin endpoints are disabled")
	}
	auth := middleware.NewAdminAuth(cfg.AdminPINHash, cfg.AuthSecret)
	loginLimiter := middleware.NewRateLimiter(5, time.Minute)

	h := handler.NewHandler(svc, logger, auth, hub, loginLimiter)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if _, err := svc.BuildLeaderboard(ctx); err != nil {
		sugar.Warnw("initial leaderboard build failed", "error", err.Error())
	}

	// Фоновые задачи: рейтинг, активность клиентов, очистка лимитов входа
	svc.StartLeaderboardUpdates(ctx, cfg.LeaderboardInterval)
	svc.StartEngagementUpdates(ctx, cfg.EngagementInterval)
	g.Go(func() error {
		loginLimiter.StartCleanup(ctx)
		return nil
	})

	// Доставка событий из очереди
	g.Go(func() error {
		return outbox.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting loyalty server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
