// Package main запускает HTTP-сервер станции замены батарей.
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

	"github.com/mmeshcher/swapstation/internal/config"
	"github.com/mmeshcher/swapstation/internal/diagnostics"
	"github.com/mmeshcher/swapstation/internal/handler"
	"github.com/mmeshcher/swapstation/internal/middleware"
	"github.com/mmeshcher/swapstation/internal/notify"
	"github.com/mmeshcher/swapstation/internal/repository"
	"github.com/mmeshcher/swapstation/internal/service"
)

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

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var diag service.Diagnostics
	if cfg.DiagnosticsAddress != "" {
		diag = diagnostics.NewClient(cfg.DiagnosticsAddress)
	} else {
		sugar.Warn("diagnostics address not set, internal defects will not be detected")
	}

	var notifier service.Notifier = notify.Nop{}
	if cfg.RedisURL != "" {
		publisher, err := notify.NewRedisPublisher(ctx, cfg.RedisURL, notify.DefaultChannel)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer publisher.Close()
		notifier = publisher
	}

	svc := service.NewService(repo, diag, notifier, logger)
	defer svc.Close()

	if cfg.OperatorSecret == "" {
		sugar.Warn("operator secret not set, only tokens signed by this process are accepted")
	}
	auth := middleware.NewOperatorAuth(cfg.OperatorSecret)
	h := handler.NewHandler(svc, logger, auth)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting swap station server", "addr", cfg.RunAddress)
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
