// Package app wires configuration into stores, engines and the lease lock
// shared by the server, the worker and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lemonslut/that-news-thing-again/internal/config"
	"github.com/lemonslut/that-news-thing-again/internal/storage"
	"github.com/lemonslut/that-news-thing-again/pkg/leaselock"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
	"github.com/lemonslut/that-news-thing-again/pkg/logger/console"
	"github.com/lemonslut/that-news-thing-again/pkg/store"
	pgxstore "github.com/lemonslut/that-news-thing-again/pkg/store/pgx"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

type App struct {
	Config  config.Config
	Store   store.Backend
	Stories *story.Engine
	Trends  *trend.Engine
	Locker  leaselock.Locker

	closers []func()
}

// InitLogger installs the console logger described by cfg.
func InitLogger(cfg config.Log) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Format: cfg.Format,
	}))
}

// New connects to Postgres (and Redis or S3 when configured) and builds the
// engines on top.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	pool, err := pgxstore.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, closers: []func(){pool.Close}}

	if err := a.build(ctx, pool); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, pool *pgxpool.Pool) error {
	cfg := a.Config
	db := pgxstore.New(pool)
	a.Store = db

	stories, err := story.NewEngine(db, db, cfg.Story)
	if err != nil {
		return err
	}
	a.Stories = stories

	trends, err := trend.NewEngine(db, cfg.Trend)
	if err != nil {
		return err
	}
	a.Trends = trends.WithLabelers(db.Labelers())

	if cfg.S3.Enabled() {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return err
		}
		a.Trends.WithArchiver(storage.NewSnapshotArchiver(client, cfg.S3.Bucket))
	}

	switch cfg.Lock.Backend {
	case config.LockRedis:
		rdb, err := leaselock.DialRedis(ctx, cfg.Lock.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.Locker = leaselock.NewRedis(rdb)
	case config.LockPostgres:
		a.Locker = leaselock.New(pool)
	default:
		return fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}

	logger.Debug("Application wired", "lock_backend", cfg.Lock.Backend, "archive", cfg.S3.Enabled(),
		"trend_kinds", len(cfg.Trend.Kinds))
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
