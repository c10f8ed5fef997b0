package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/triage-ai/moderation/internal/api"
	"github.com/triage-ai/moderation/internal/auth"
	"github.com/triage-ai/moderation/internal/chread"
	"github.com/triage-ai/moderation/internal/config"
	"github.com/triage-ai/moderation/internal/engine"
	"github.com/triage-ai/moderation/internal/engine/classifiers"
	"github.com/triage-ai/moderation/internal/rules"
	"github.com/triage-ai/moderation/internal/server"
	"github.com/triage-ai/moderation/internal/storage"
	"github.com/triage-ai/moderation/internal/store"
	"github.com/triage-ai/moderation/internal/store/memstore"
	"github.com/triage-ai/moderation/internal/userlock"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("key:  %s\nhash: %s\n", key, hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := mustBuildLogger(cfg.Log.Level)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	if err := run(cfg, logger); err != nil {
		logger.Fatal("moderation server failed", zap.Error(err))
	}
	logger.Info("moderation server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting moderation server",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Int("max_warnings", cfg.Policy.MaxWarnings),
		zap.Bool("permanent_ban", cfg.Policy.EnablePermanentBan),
	)

	// Persistence: Postgres, or in-memory fallback
	var (
		repo      rules.Repository
		ledger    engine.Ledger
		sanctions engine.SanctionStore
	)
	if cfg.Database.URL != "" {
		db, err := store.Open(ctx, cfg.Database.URL, store.PoolConfig{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		applied, err := store.Migrate(ctx, db)
		if err != nil {
			return err
		}
		logger.Info("postgres connected", zap.Int("migrations_applied", applied))
		pg := store.NewStore(db)
		repo, ledger, sanctions = pg, pg, pg
	} else {
		logger.Warn("no DATABASE_URL set, using in-memory store; state is lost on restart")
		mem := memstore.New()
		repo, ledger, sanctions = mem, mem, mem
	}

	// Rules: live store plus recovery file
	var snapshotFile *rules.SnapshotFile
	if cfg.Rules.SnapshotPath != "" {
		f, err := rules.NewSnapshotFile(cfg.Rules.SnapshotPath)
		if err != nil {
			return err
		}
		snapshotFile = f
	}
	ruleStore := rules.NewStore(repo, snapshotFile, logger)
	if err := ruleStore.Reconcile(ctx); err != nil {
		// Keep serving; admins can retry with POST /v1/admin/rules/reload.
		logger.Error("initial rule load failed", zap.Error(err))
	}

	// Classifiers
	classifier, closeClassifier := buildClassifier(cfg.Classifier, logger)
	defer closeClassifier()

	// Per-user lock: in-process, plus Redis across replicas when configured
	var locker engine.UserLocker = userlock.NewKeyed()
	if cfg.Redis.URL != "" {
		client, err := userlock.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		locker = userlock.Stack{userlock.NewKeyed(), userlock.NewRedis(client, cfg.Redis.LockTTL, logger)}
		logger.Info("redis user lock enabled", zap.Duration("ttl", cfg.Redis.LockTTL))
	}

	// Violation events: ClickHouse, or LogWriter fallback
	var (
		writer   storage.EventWriter
		chReader *chread.Reader
		chConn   driver.Conn
	)
	if cfg.ClickHouse.DSN != "" {
		conn, err := storage.Open(ctx, cfg.ClickHouse.DSN)
		if err == nil {
			err = storage.EnsureSchema(ctx, conn)
		}
		if err != nil {
			logger.Warn("clickhouse unavailable, falling back to log writer", zap.Error(err))
			if conn != nil {
				_ = conn.Close()
			}
			writer = storage.NewLogWriter(logger)
		} else {
			chConn = conn
			writer = storage.NewClickHouseWriter(conn, logger)
			chReader = chread.NewReader(conn, logger)
			logger.Info("clickhouse connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer func() {
		writer.Close()
		if chConn != nil {
			_ = chConn.Close()
		}
	}()

	eng := engine.New(engine.Config{
		Policy: engine.Policy{
			MaxWarnings:         cfg.Policy.MaxWarnings,
			PermanentBan:        cfg.Policy.EnablePermanentBan,
			RestrictionDuration: cfg.Policy.TempRestrictionDuration,
		},
		Thresholds: engine.ThresholdConfig{
			Toxic:             float32(cfg.Thresholds.Toxic),
			Harmful:           float32(cfg.Thresholds.Harmful),
			Sexual:            float32(cfg.Thresholds.Sexual),
			Child:             float32(cfg.Thresholds.Child),
			Hate:              float32(cfg.Thresholds.Hate),
			Violence:          float32(cfg.Thresholds.Violence),
			AllowAdultContent: cfg.Thresholds.AllowAdultContent,
		},
		ClassifierTimeout:     cfg.Classifier.Timeout,
		FailClosedOnGateError: cfg.Policy.SanctionGateFailClosed,
		WriteRetries:          cfg.Policy.WriteRetries,
	}, engine.Deps{
		Rules:      ruleStore,
		Classifier: classifier,
		Ledger:     ledger,
		Sanctions:  sanctions,
		Locker:     locker,
		Notifier:   storage.NewNotifier(writer),
		Logger:     logger,
	})

	authenticator, err := auth.NewKeyAuthenticator(auth.KeyAuthConfig{
		ServiceKeyHash: cfg.Auth.ServiceKeyHash,
		AdminKeyHash:   cfg.Auth.AdminKeyHash,
		CacheTTL:       cfg.Auth.CacheTTL,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Server.HTTPPort),
		Handler: api.NewRouter(&api.Dependencies{
			Engine:         eng,
			Auth:           authenticator,
			Reader:         chReader,
			Logger:         logger,
			AllowedOrigins: cfg.Server.AllowedOrigins(),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	grpcServer, healthServer := server.NewGRPCServer(server.NewModerationServer(eng, authenticator, logger), logger)
	grpcLis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", grpcLis.Addr().String()))
		if err := grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if cfg.Sweeper.Interval > 0 {
		g.Go(func() error {
			eng.RunSweeper(gctx, cfg.Sweeper.Interval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

// buildClassifier combines the lexical heuristic and the remote model. It
// returns nil when both are disabled, which skips semantic checks entirely.
func buildClassifier(cfg config.ClassifierConfig, logger *zap.Logger) (engine.Classifier, func()) {
	var members []engine.Classifier
	closeFn := func() {}

	if cfg.Lexical {
		members = append(members, classifiers.NewLexicalClassifier())
	}
	if cfg.Endpoint != "" {
		remote, err := classifiers.NewGRPCClassifier(cfg.Endpoint, logger)
		if err != nil {
			logger.Error("failed to create grpc classifier, skipping",
				zap.String("endpoint", cfg.Endpoint),
				zap.Error(err),
			)
		} else {
			members = append(members, remote)
			closeFn = func() { _ = remote.Close() }
			logger.Info("grpc classifier enabled", zap.String("endpoint", cfg.Endpoint))
		}
	}

	switch len(members) {
	case 0:
		logger.Warn("no classifier configured, semantic checks disabled")
		return nil, closeFn
	case 1:
		return members[0], closeFn
	default:
		return classifiers.NewMax(members...), closeFn
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
