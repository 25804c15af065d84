package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/lemonslut/that-news-thing-again/internal/queue"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

// JobQueue enqueues background work for the worker.
type JobQueue interface {
	ClusterArticle(ctx context.Context, articleID int64) error
	Sweep(ctx context.Context, reason string) error
	CaptureTrends(ctx context.Context, msg queue.CaptureTrendsMsg) error
	Cleanup(ctx context.Context, reason string) error
}

type App struct {
	Stories story.Reader
	Trends  *trend.Engine
	Jobs    JobQueue
	// APIKey guards the job routes. Empty disables them.
	APIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
