package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"feeoracle/internal/config"
	cronrunner "feeoracle/internal/cron"
	"feeoracle/internal/db"
	"feeoracle/internal/fetcher"
	"feeoracle/internal/handler"
	"feeoracle/internal/ledger"
	"feeoracle/internal/logger"
	"feeoracle/internal/pipeline"
	"feeoracle/internal/repository"
	gormrepository "feeoracle/internal/repository/gorm"
	"feeoracle/internal/session"
)

func main() {
	cfgPath := os.Getenv("ORACLE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("ORACLE_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store repository.RunRepository
	var gormDB *gorm.DB
	if strings.TrimSpace(cfg.DB.DSN) != "" {
		dbConn, err := db.Open(cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		gormDB = dbConn.Gorm
		store = gormrepository.New(gormDB)
	} else {
		logger.Warn("db.dsn not configured, run history will not be persisted")
	}

	browserSession := &session.Session{
		Lifetime: cfg.Session.Lifetime,
		Logger:   logger,
	}
	indexFetcher := &fetcher.Fetcher{
		Config:  cfg.Source,
		Session: browserSession,
		Logger:  logger,
	}
	writer := ledger.New(ctx, cfg.Ledger, logger)
	oracle := &pipeline.Pipeline{
		Fetcher: indexFetcher,
		Writer:  writer,
		Fee:     cfg.Fee,
		Repo:    store,
		Session: browserSession,
		Logger:  logger,
	}

	logger.Info("fee oracle starting",
		zap.String("source", cfg.Source.URL),
		zap.String("schedule", cfg.Cron.Schedule),
		zap.String("timezone", cfg.Cron.Timezone),
		zap.Bool("writer_enabled", writer.Enabled()),
	)

	// One-shot mode: run a single update and exit.
	if len(os.Args) > 1 && os.Args[1] == "now" {
		record, err := oracle.Run(ctx)
		if err != nil {
			logger.Fatal("oracle run failed", zap.Error(err))
		}
		if record.FailStage != nil {
			logger.Error("oracle run did not produce an update", zap.String("stage", *record.FailStage))
			os.Exit(1)
		}
		return
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	healthHandler := &handler.HealthHandler{DB: gormDB}
	healthHandler.Register(engine)
	runHandler := &handler.RunHandler{
		Repo:     store,
		Pipeline: oracle,
		Session:  browserSession,
		Logger:   logger,
	}
	runHandler.Register(engine)

	if cfg.Cron.Enabled {
		cronRunner, err := cronrunner.New(logger, ctx, cfg.Cron.Timezone)
		if err != nil {
			logger.Fatal("cron init failed", zap.Error(err))
		}
		_, err = cronRunner.Add(cfg.Cron.Schedule, func(ctx context.Context) {
			if _, err := oracle.Run(ctx); err != nil {
				logger.Warn("scheduled oracle run skipped", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("cron register oracle run failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
