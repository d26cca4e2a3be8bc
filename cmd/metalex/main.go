package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/internal/config"
	"github.com/aurumvault/metalex_unified/internal/database"
	"github.com/aurumvault/metalex_unified/internal/fiat"
	"github.com/aurumvault/metalex_unified/internal/ledgerwatch"
	"github.com/aurumvault/metalex_unified/internal/positions"
	"github.com/aurumvault/metalex_unified/internal/reconcile"
	"github.com/aurumvault/metalex_unified/internal/server"
	"github.com/aurumvault/metalex_unified/pkg/logger"
	"github.com/aurumvault/metalex_unified/pkg/models"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel, "metalex")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Connect to PostgreSQL and ensure the settlement schema
	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	// Redis dedup fast path (optional; the store degrades to table-only)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Warn("Redis unavailable, dedup served from database only", zap.Error(err))
		redisClient = nil
	}

	// Kafka writer for terminal-settlement notices
	kafkaWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	defer kafkaWriter.Close()

	tolerance, err := decimal.NewFromString(cfg.Reconcile.HeuristicTolerance)
	if err != nil {
		zapLogger.Fatal("Invalid heuristic tolerance", zap.Error(err))
	}

	// Reconciliation core
	store := reconcile.NewStore(db, redisClient, cfg.Redis.SeenTTL, zapLogger)
	resolver := reconcile.NewResolver(store, tolerance, cfg.Reconcile.HeuristicWindow, zapLogger)
	engine := reconcile.NewEngine(store, cfg.Reconcile.MaxCASRetries, zapLogger)
	dispatcher := reconcile.NewDispatcher(store, kafkaWriter, cfg.Kafka.NotificationsTopic, zapLogger)
	unmatched := reconcile.NewUnmatchedLedger(db, zapLogger)
	processor := reconcile.NewProcessor(store, resolver, engine, dispatcher, unmatched, zapLogger)

	normalizer := reconcile.NewNormalizer(
		fiat.ProviderSpecs(cfg.Providers),
		cfg.Reconcile.SignatureSkew,
		zapLogger,
	)

	positionsSvc := positions.NewService(store, dispatcher, zapLogger)

	// Ledger confirmation sources
	var sources []ledgerwatch.ConfirmationSource
	if cfg.Ledgers.EVMRPCURL != "" {
		evmSource, err := ledgerwatch.NewEVMSource(cfg.Ledgers.EVMRPCURL, models.NetworkEVMPublic)
		if err != nil {
			zapLogger.Fatal("Failed to connect to EVM rpc", zap.Error(err))
		}
		sources = append(sources, evmSource)
	}
	if cfg.Ledgers.SecondChainURL != "" {
		sources = append(sources, ledgerwatch.NewHTTPSource(cfg.Ledgers.SecondChainURL, models.NetworkSecondChain))
	}
	if cfg.Ledgers.PrivateLedgerURL != "" {
		sources = append(sources, ledgerwatch.NewHTTPSource(cfg.Ledgers.PrivateLedgerURL, models.NetworkPrivateLedger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(sources) > 0 {
		watcher := ledgerwatch.NewWatcher(store, normalizer, processor, sources, cfg.Ledgers.PollInterval, zapLogger)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				zapLogger.Error("Ledger watcher stopped", zap.Error(err))
			}
		}()
	}

	apiServer := server.NewServer(zapLogger, cfg.Server.AllowedOrigins, normalizer, processor, positionsSvc, unmatched)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", addr))
		if err := apiServer.Start(addr); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")
	cancel()

	zapLogger.Info("Server exited properly")
}
