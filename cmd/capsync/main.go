package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZutrixPog/capsync"
	"github.com/ZutrixPog/capsync/api"
	"github.com/ZutrixPog/capsync/config"
	"github.com/ZutrixPog/capsync/downstream"
	commercehttp "github.com/ZutrixPog/capsync/downstream/http"
	sessionredis "github.com/ZutrixPog/capsync/downstream/redis"
	historypg "github.com/ZutrixPog/capsync/history/postgres"
	storepg "github.com/ZutrixPog/capsync/store/postgres"
	"github.com/go-redis/redis"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("capsync exited", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storepg.InitDB(cfg.Database.DSN, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return err
	}
	if err := historypg.Migrate(db); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	breakerCfg := downstream.DefaultBreakerConfig()
	breakerCfg.ConsecutiveFailures = cfg.Breaker.ConsecutiveFailures
	breakerCfg.Timeout = cfg.Breaker.Timeout

	session := downstream.NewBreakingSession(sessionredis.NewSessionCache(redisClient), breakerCfg, logger)
	commerce := downstream.NewBreakingCommerce(
		commercehttp.NewCommerceClient(cfg.Commerce.BaseURL, &http.Client{Timeout: cfg.Commerce.Timeout}),
		breakerCfg,
		logger,
	)

	st := storepg.NewStore(db)
	hist := historypg.NewHistoryRepo(db)
	clock := capsync.SystemClock{}

	jobs, err := capsync.NewJobs(capsync.RunnerConfig{
		Store:   st,
		Clock:   clock,
		Backoff: capsync.FixedBackoff(cfg.Dispatch.RetryDelay),
		History: hist,
		Logger:  logger,
	}, session, commerce)
	if err != nil {
		return err
	}
	syncers, err := capsync.NewSyncHandlers(st, clock, logger)
	if err != nil {
		return err
	}

	dispatcher, err := capsync.NewDispatcher(st, clock, logger, capsync.DispatcherConfig{
		Interval: cfg.Dispatch.Interval,
		PageSize: cfg.Dispatch.PageSize,
		Workers:  cfg.Dispatch.Workers,
		MaxAge:   cfg.Dispatch.MaxAge,
	}, jobs...)
	if err != nil {
		return err
	}
	defer dispatcher.Release()

	app := api.NewApp(api.Config{
		Store:     st,
		Registrar: capsync.NewRegistrar(st, clock, logger),
		Syncers:   syncers,
		History:   hist,
		Clock:     clock,
		Logger:    logger,
		MaxAge:    cfg.Dispatch.MaxAge,
	})

	errs := make(chan error, 2)
	go func() {
		errs <- dispatcher.Run(ctx)
	}()
	if cfg.History.Retention > 0 {
		go pruneHistory(ctx, hist, cfg.History, logger)
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		errs <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

func pruneHistory(ctx context.Context, repo *historypg.HistoryRepo, cfg config.HistoryConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pruned, err := repo.Prune(ctx, time.Now().Add(-cfg.Retention))
		if err != nil {
			logger.Warn("history prune failed", zap.Error(err))
			continue
		}
		if pruned > 0 {
			logger.Info("history pruned", zap.Int64("reports", pruned))
		}
	}
}
