package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-ledger/internal/adapter/cleanup"
	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/catalog"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/parser"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/observe"
	"github.com/rl1809/stock-ledger/internal/port"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.LogLevel.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := observe.InitProvider("stock-ledger")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer provider.Shutdown(context.Background())
	metrics := observe.DefaultMetrics()

	// Stores
	repos, closeDB, err := openRepositories(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	store := storage.NewRetrying(repos.inventory, repos.batches, storage.RetryConfig{
		MaxAttempts: cfg.Store.MaxAttempts,
		BaseBackoff: cfg.Store.BaseBackoff,
		MaxBackoff:  cfg.Store.MaxBackoff,
		OnRetry: func(op string, attempt int, err error) {
			metrics.RecordStoreRetry(context.Background(), op)
		},
	})

	ttl := storage.StateTTL{Pending: cfg.Confirmation.TTL, Correction: cfg.Correction.TTL}
	states, locker, closeRedis, err := openStateStore(ctx, cfg.Redis, ttl, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	// Parsing pipeline
	cat, err := loadCatalog(cfg.Parser.CatalogPath)
	if err != nil {
		return err
	}
	correctorOpts := []parser.CorrectorOption{parser.WithDefaultLanguage(cfg.Parser.DefaultLanguage)}
	if cfg.Cleanup.Provider != "" {
		cleaner, err := cleanup.NewOpenAICleaner(cfg.Cleanup.APIKey, cfg.Cleanup.Model, cleanup.WithBaseURL(cfg.Cleanup.BaseURL))
		if err != nil {
			return fmt.Errorf("init text cleanup: %w", err)
		}
		correctorOpts = append(correctorOpts, parser.WithCleaner(cleaner, cfg.Cleanup.MaxInput, cfg.Cleanup.Timeout))
		logger.Info("text cleanup enabled", "provider", cfg.Cleanup.Provider, "model", cfg.Cleanup.Model)
	}

	// Services
	ledger := service.NewLedger(store, store, locker, metrics, service.LedgerConfig{
		SelfHealSettle: cfg.Batches.SelfHealSettle,
		Location:       cfg.Batches.Location(),
	})
	reconciler := service.NewReconciler(store, ledger, locker, metrics, service.SaleAttribution(cfg.Batches.SaleAttribution))
	messageService := service.NewMessageService(service.MessageServiceConfig{
		Catalog:         cat,
		Corrector:       parser.NewCorrector(cat, correctorOpts...),
		Extractor:       parser.NewExtractor(cat, parser.NewSegmenter(cat), parser.DefaultAction(cfg.Parser.DefaultAction)),
		Gate:            service.NewGate(cfg.Confirmation.Required, cfg.Confirmation.Threshold),
		States:          states,
		Reconciler:      reconciler,
		Ledger:          ledger,
		Selector:        service.NewSelector(cat, ledger),
		Inventory:       store,
		Metrics:         metrics,
		Logger:          logger,
		PromptExpiry:    cfg.Batches.PromptExpiry,
		BulkConcurrency: cfg.Bulk.Concurrency,
	})

	// gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterInventoryServer(grpcServer, handler.NewGRPCHandler(messageService, logger))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// HTTP server
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler.NewHTTPHandler(messageService, logger).Router(provider.Handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
	return nil
}

type repositories struct {
	inventory port.InventoryRepository
	batches   port.BatchRepository
}

func openRepositories(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (repositories, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory store; data is lost on exit")
		mem := storage.NewMemoryAdapter()
		return repositories{inventory: mem, batches: mem}, func() {}, nil
	}

	dsn := cfg.DSN
	if cfg.Driver == storage.DriverMySQL {
		var err error
		if dsn, err = storage.MySQLDSN(dsn); err != nil {
			return repositories{}, nil, err
		}
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return repositories{}, nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.Driver == storage.DriverSQLite {
		// Writers serialize on one connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return repositories{}, nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	if err := storage.Migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return repositories{}, nil, err
	}
	logger.Info("connected to database", "driver", cfg.Driver)

	sqlAdapter := storage.NewSQLAdapter(db)
	return repositories{inventory: sqlAdapter, batches: sqlAdapter}, func() { db.Close() }, nil
}

func openStateStore(ctx context.Context, cfg config.RedisConfig, ttl storage.StateTTL, logger *slog.Logger) (port.ActorStateStore, port.KeyLocker, func(), error) {
	if cfg.Addr == "" {
		logger.Warn("redis not configured; dialog state and locks are process-local")
		return storage.NewMemoryStateStore(ttl), storage.NewLocalLocker(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.Addr)

	adapter := storage.NewRedisAdapter(rdb, ttl)
	return adapter, adapter, func() { rdb.Close() }, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}
