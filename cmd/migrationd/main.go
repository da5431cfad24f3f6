// Package main is the entry point for the VM migration daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/drs"
	"github.com/limiquantix/vmmigrate/internal/migration"
	"github.com/limiquantix/vmmigrate/internal/repository/etcd"
	"github.com/limiquantix/vmmigrate/internal/repository/memory"
	"github.com/limiquantix/vmmigrate/internal/repository/postgres"
	"github.com/limiquantix/vmmigrate/internal/repository/redis"
	"github.com/limiquantix/vmmigrate/internal/server"
	"github.com/limiquantix/vmmigrate/internal/usage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	evaluate := flag.Bool("evaluate", false, "Plan one manual pass, print the decisions and exit")
	policy := flag.String("policy", "", "Policy for -evaluate (defaults to drs.policy)")
	seedDatabase := flag.Bool("seed-database", false, "Write the demo fleet to PostgreSQL before starting")
	flag.Parse()

	if *showVersion {
		fmt.Println("VM Migration Daemon")
		fmt.Println("Version:", version)
		fmt.Println("Commit:", commit)
		fmt.Println("Build Date:", buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting VM migration daemon",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	d, err := wire(ctx, cfg, *seedDatabase, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}

	if *evaluate {
		err := runEvaluate(ctx, d.engine, migration.PolicyID(*policy), cfg)
		d.close()
		if err != nil {
			logger.Fatal("Evaluation failed", zap.Error(err))
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.engine.Start(gctx)
		return nil
	})
	g.Go(func() error {
		if cfg.Server.Enabled {
			return d.server.Run(gctx)
		}
		<-gctx.Done()
		return d.server.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Daemon error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

type daemon struct {
	engine  *drs.Engine
	server  *server.Server
	closers []func()
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// wire connects the optional infrastructure and builds the engine. PostgreSQL backs the
// fleet when configured; otherwise the in-memory fleet is seeded with demo data.
func wire(ctx context.Context, cfg *config.Config, seedDatabase bool, logger *zap.Logger) (*daemon, error) {
	d := &daemon{}

	fleet := memory.NewFleet()
	var submitter migration.JobSubmitter = fleet
	var engineOpts []drs.Option
	var serverOpts []server.ServerOption

	if cfg.Database.Host != "" {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db.Close)

		store := postgres.NewFleetStore(db, fleet, logger)
		if seedDatabase {
			demo := memory.NewFleet()
			if err := memory.SeedDemoData(ctx, demo); err != nil {
				d.close()
				return nil, err
			}
			if err := store.Import(ctx, demo); err != nil {
				d.close()
				return nil, err
			}
		}

		submitter = store
		engineOpts = append(engineOpts, drs.WithRefresher(store))
		serverOpts = append(serverOpts, server.WithPostgreSQL(db))
	} else {
		logger.Info("No database configured, using in-memory demo fleet")
		if err := memory.SeedDemoData(ctx, fleet); err != nil {
			return nil, err
		}
	}

	if cfg.Redis.Host != "" {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, migration events will not be published", zap.Error(err))
		} else {
			d.closers = append(d.closers, func() { _ = cache.Close() })
			engineOpts = append(engineOpts, drs.WithPublisher(cache))
			serverOpts = append(serverOpts, server.WithRedis(cache))
		}
	}

	if len(cfg.Etcd.Endpoints) > 0 {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			d.close()
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = client.Close() })

		leader := client.CampaignForLeader(ctx, cfg.Etcd.ElectionKey)
		engineOpts = append(engineOpts, drs.WithLeaderChecker(leader))
		serverOpts = append(serverOpts, server.WithEtcd(client, leader))
	}

	metrics := migration.NewMetrics(prometheus.DefaultRegisterer)
	gate := migration.NewConfigGate(cfg.Migration)
	collector := usage.NewCollector(fleet, logger)

	planner := migration.NewPlanner(cfg.Migration, fleet, collector, gate, metrics, logger)
	executor := migration.NewExecutor(cfg.Migration, gate, submitter, metrics, logger)

	d.engine = drs.NewEngine(cfg.DRS, planner, executor, logger, engineOpts...)
	d.server = server.New(cfg, d.engine, logger, serverOpts...)
	return d, nil
}

func runEvaluate(ctx context.Context, engine *drs.Engine, policy migration.PolicyID, cfg *config.Config) error {
	if policy == "" {
		policy = migration.PolicyID(cfg.DRS.Policy)
	}

	report, err := engine.Evaluate(ctx, policy)
	if err != nil {
		return err
	}
	return report.WriteTable(os.Stdout)
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
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

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
