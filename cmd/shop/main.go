package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/bus"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/config"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/db"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/product-sync/internal/http"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/logging"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/telemetry"
)

func main() {
	cfg := config.LoadShop()

	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.OTLPEndpoint != "")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("shop stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	// --- DB ---
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, db.ShopMigrations, logger); err != nil {
			return err
		}
	}

	// --- bus ---
	transport, err := bus.Open(ctx, cfg.Bus, logger, events.TopicStoreControl, events.TopicStoreStatus)
	if err != nil {
		return err
	}
	defer transport.Close()

	repo := catalog.NewPostgresRepository(pool)
	pub := events.NewPublisher(transport, cfg.ServiceName, cfg.Bus.PublishTimeout)
	svc := catalog.NewService(repo, pub, logger)

	// --- HTTP ---
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewShopRouter(httpapi.NewProductHandler(svc, logger), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("consuming", zap.String("topic", events.TopicStoreStatus), zap.String("group", cfg.Bus.ConsumerGroup))
		return transport.Subscribe(gctx, events.TopicStoreStatus, cfg.Bus.ConsumerGroup, events.StoreStatusHandler(repo, logger))
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
