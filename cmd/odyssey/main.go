package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/app"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/audit"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/geo"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/branches"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/broker"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	publisher := broker.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicFulfillment, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("kafka close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts, metrics, logger)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()

	branchRepo := branches.NewRepository(dbpool)
	branchService := branches.NewService(branchRepo, jobClient, logger)

	productRepo := products.NewRepository(dbpool)
	// Activity checks only; variant creation goes through productService below.
	productChecker := products.NewService(productRepo, nil, logger)
	catalog := masterdata.NewCatalog(branchService, productChecker)

	auditService := audit.NewService(audit.NewRepository(dbpool))

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, catalog, jobClient, logger, cfg.InventoryConfig())
	productService := products.NewService(productRepo, inventoryService, logger)

	ranker := geo.NewRanker(redisClient, geo.Options{
		RadiusKm:      cfg.FulfillmentRankRadiusKm,
		MaxCandidates: cfg.FulfillmentMaxCandidates,
	})

	orderRepo := orders.NewRepository(dbpool)
	engine := fulfillment.NewEngine(fulfillment.Deps{
		Orders:      orderRepo,
		Ranker:      ranker,
		Ledger:      inventoryService,
		Assignments: fulfillment.NewRepository(dbpool),
		Publisher:   publisher,
		Metrics:     metrics,
		Logger:      logger,
	}, cfg.FulfillmentConfig())
	orderService := orders.NewService(orderRepo, engine, shared.NewLocker(redisClient), jobClient, logger, cfg.OrderTransitionLockTTL)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, auditService),
		FulfillmentHandler: fulfillment.NewHandler(logger, engine),
		OrdersHandler:      orders.NewHandler(logger, orderService),
		BranchesHandler:    branches.NewHandler(logger, branchService),
		ProductsHandler:    products.NewHandler(logger, productService),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
