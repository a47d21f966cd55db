package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/cosmicduel/duel-server/internal/config"
	"github.com/cosmicduel/duel-server/internal/game"
	"github.com/cosmicduel/duel-server/internal/ledger"
	"github.com/cosmicduel/duel-server/internal/lobby"
	"github.com/cosmicduel/duel-server/internal/realtime"
	"github.com/cosmicduel/duel-server/internal/repository"
	"github.com/cosmicduel/duel-server/internal/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
)

const healthInterval = 15 * time.Second

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting duel server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]server.Check)

	// Initialize storage
	var store repository.Store
	if cfg.Database.URL != "" {
		db, err := repository.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				logger.Fatal("failed to migrate database", zap.Error(err))
			}
		}
		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)
		store = repository.NewPostgresStore(db)
		checks["storage"] = func(ctx context.Context) error { return db.Pool().Ping(ctx) }
	} else {
		logger.Warn("database.url not set; using in-memory storage")
		store = repository.NewMemoryStore()
	}

	catalog := card.Load(ctx, store, logger)

	// Initialize stake ledger
	var stakes ledger.StakeLedger
	if cfg.NATS.URL != "" {
		nc, err := ledger.Connect(cfg.NATS, logger)
		if err != nil {
			logger.Fatal("failed to connect to ledger", zap.Error(err))
		}
		defer nc.Close()
		stakes = ledger.NewBounded(ledger.NewNATSLedger(nc, cfg.NATS.SubjectPrefix), cfg.Ledger.Timeout, cfg.Ledger.MaxAttempts, logger)
		checks["ledger"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		}
	} else {
		logger.Warn("nats.url not set; using demo ledger", zap.Int64("balance", cfg.Ledger.DemoBalance))
		stakes = ledger.NewDemoLedger(cfg.Ledger.DemoBalance)
	}

	opts := game.Options{EnforceTurnOrder: cfg.Game.EnforceTurnOrder}
	reconstructor := game.NewReconstructor(store, catalog, opts, logger)
	registry := game.NewRegistry(reconstructor, cfg.Game.ReconstructionTimeout, logger)

	hub := realtime.NewHub(logger)
	gateway := realtime.NewGateway(hub, registry, store, stakes, logger)
	lobbySvc := lobby.NewService(store, stakes, registry, catalog, opts, cfg.Game.DefaultStake, logger)

	if cfg.Replay.Enabled {
		replays := game.NewReplayRecorder(logger, cfg.Replay.Directory)
		gateway.SetReplays(replays)
		lobbySvc.SetReplays(replays)
		logger.Info("replay recording enabled", zap.String("directory", cfg.Replay.Directory))
	}

	var relay *realtime.RedisRelay
	if cfg.Redis.Address != "" {
		relay = realtime.NewRedisRelay(cfg.Redis, logger)
		defer relay.Close()
		if err := relay.Ping(ctx); err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		gateway.SetRelay(relay)
		checks["relay"] = relay.Ping
	}

	if cfg.Server.HTTP.Mode != "" {
		gin.SetMode(cfg.Server.HTTP.Mode)
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTP.Address,
		Handler:           server.NewRouter(lobbySvc, gateway, catalog, cfg.Server.WebSocket, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := server.NewGRPCServer(healthServer, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		server.WatchHealth(gctx, healthServer, healthInterval, checks, logger)
		return nil
	})
	if cfg.Game.IdleEviction > 0 {
		g.Go(func() error {
			registry.RunEviction(gctx, cfg.Game.IdleEviction)
			return nil
		})
	}
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx, gateway.DeliverRemote)
		})
	}

	logger.Info("duel server initialized",
		zap.String("version", version),
		zap.String("http_address", cfg.Server.HTTP.Address),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.Int("cards", catalog.Len()),
		zap.Bool("fallback_catalog", catalog.IsFallback()),
	)

	// Wait for a termination signal or a failed component
	<-gctx.Done()
	logger.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	hub.Close()
	grpcServer.GracefulStop()

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("duel server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
