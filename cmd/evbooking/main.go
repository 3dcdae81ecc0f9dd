// Package main запускает HTTP-сервер сервиса бронирования электромобилей.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/evbooking/internal/backend"
	"github.com/mmeshcher/evbooking/internal/catalog"
	"github.com/mmeshcher/evbooking/internal/config"
	"github.com/mmeshcher/evbooking/internal/handler"
	"github.com/mmeshcher/evbooking/internal/middleware"
	"github.com/mmeshcher/evbooking/internal/notify"
	"github.com/mmeshcher/evbooking/internal/reconcile"
	"github.com/mmeshcher/evbooking/internal/repository"
	"github.com/mmeshcher/evbooking/internal/service"
	"github.com/mmeshcher/evbooking/internal/validation"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, err := newJournal(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalw("journal initialization error", "error", err.Error())
	}
	defer journal.Close()

	client := backend.NewClient(cfg.APIURL, cfg.CheckoutBaseURL, cfg.RequestTimeout, logger)

	var cache catalog.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// Кэш необязателен: ошибки Redis логируются и обходятся.
			sugar.Warnw("redis is not reachable, catalog cache will be bypassed until it is", "addr", cfg.RedisAddr, "error", err.Error())
		}
		cancel()
		cache = catalog.NewRedisCache(rdb, cfg.CatalogTTL)
	}
	catalogSvc := catalog.NewService(client, cache, logger)

	hub := notify.NewHub(logger)
	sinks := notify.NewFanout(logger).
		Add("journal", notify.NewJournalSink(journal)).
		Add("websocket", hub)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kafkaPub := notify.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		defer kafkaPub.Close()
		sinks.Add("kafka", kafkaPub)
	}

	reconciler := reconcile.New(client, sinks, reconcile.Config{
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.PaymentTimeout,
	}, logger)
	defer reconciler.Close()

	bookingValidator, err := validation.New(nil)
	if err != nil {
		sugar.Fatalw("validator initialization error", "error", err.Error())
	}
	svc := service.NewService(client, catalogSvc, bookingValidator, reconciler, journal, logger)

	h := handler.NewHandler(svc, hub, logger, middleware.NewAuthMiddleware(nil))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		// Контекст запросов (и WebSocket-соединений) отменяется при остановке.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting evbooking server", "addr", cfg.RunAddress, "backend", cfg.APIURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		reconciler.Close()
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func newJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Journal, error) {
	if cfg.DatabaseURI == "" {
		logger.Info("DATABASE_URI is empty, payment outcomes are kept in memory")
		return repository.NewMemoryJournal(), nil
	}
	return repository.NewPostgresJournal(ctx, cfg.DatabaseURI)
}
