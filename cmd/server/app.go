package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iliyamo/training-seat-pools/internal/config"
	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/database/migrate"
	"github.com/iliyamo/training-seat-pools/internal/engine"
	"github.com/iliyamo/training-seat-pools/internal/repository"
	"github.com/iliyamo/training-seat-pools/internal/service"
)

// app holds what every command shares once configuration is loaded.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *database.DB
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, cfg.DB.Driver, cfg.DB.DataSource())
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open %s database: %w", cfg.DB.Driver, err)
	}
	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) migrate(ctx context.Context) error {
	if err := migrate.Migrate(ctx, a.db, a.logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// engine builds the allocation engine with the configured collaborators.
func (a *app) engine(subs ...engine.Subscriber) *engine.Engine {
	var enroller engine.Enroller = engine.NopEnroller{}
	if a.cfg.Enroll.BaseURL != "" {
		enroller = service.NewHTTPEnroller(a.cfg.Enroll.BaseURL, a.cfg.Enroll.Token, a.cfg.Enroll.Timeout, a.logger)
	}
	return engine.New(a.db, repository.NewSeatStore(), engine.Options{
		Directory:   repository.NewDirectoryRepo(a.db),
		Enroller:    enroller,
		Subscribers: subs,
		Logger:      a.logger.Named("engine"),
		Config:      a.cfg.Engine,
	})
}

// newLogger builds a production JSON logger, or a console logger in dev.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Env, "dev") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("env", cfg.Env)), nil
}
