package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lemonslut/that-news-thing-again/internal/app"
	"github.com/lemonslut/that-news-thing-again/internal/config"
	"github.com/lemonslut/that-news-thing-again/internal/migrate"
	"github.com/lemonslut/that-news-thing-again/internal/queue"
	"github.com/lemonslut/that-news-thing-again/internal/server"
	"github.com/lemonslut/that-news-thing-again/internal/server/middleware"
	"github.com/lemonslut/that-news-thing-again/internal/util"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	app.InitLogger(cfg.Log)
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	if err := migrate.Up(migrate.SourceURL(cfg.MigrationsPath), cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize", "err", err)
	}
	defer a.Close()

	que, err := queue.Dial(ctx, cfg.RabbitMQ.URL())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues()); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	if cfg.AdminAPIKey == "" {
		logger.Warn("ADMIN_API_KEY is not set, job routes are disabled")
	}

	e := server.New(&middleware.App{
		Stories: a.Store,
		Trends:  a.Trends,
		Jobs:    queue.NewPublisher(ch),
		APIKey:  cfg.AdminAPIKey,
	})
	if err := server.Run(ctx, e, cfg.Port); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}
