package routes

import (
	"net/http"
	"time"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/lemonslut/that-news-thing-again/internal/queue"
	"github.com/lemonslut/that-news-thing-again/internal/server/middleware"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

type jobResponse struct {
	Message string `json:"message"`
	Queue   string `json:"queue,omitempty"`
}

func enqueued(c echo.Context, queueName string, err error) error {
	if err != nil {
		logger.Error("Failed to enqueue job", "queue", queueName, "err", err)
		return c.JSON(http.StatusServiceUnavailable, jobResponse{Message: "Failed to enqueue job"})
	}
	return c.JSON(http.StatusAccepted, jobResponse{Message: "Job enqueued", Queue: queueName})
}

// ClusterArticleHandler enqueues clustering for one article.
func ClusterArticleHandler(c echo.Context) error {
	type clusterParams struct {
		ArticleID int64 `param:"id" validate:"required,min=1"`
	}

	params := new(clusterParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request params"})
	}

	jobs := c.(*middleware.AppContext).App.Jobs
	err := jobs.ClusterArticle(c.Request().Context(), params.ArticleID)
	return enqueued(c, queue.ClusterArticleQueue, err)
}

func SweepHandler(c echo.Context) error {
	jobs := c.(*middleware.AppContext).App.Jobs
	err := jobs.Sweep(c.Request().Context(), "api")
	return enqueued(c, queue.ClusterSweepQueue, err)
}

// CaptureTrendsHandler enqueues a capture. Without period_start the last
// closed period is captured.
func CaptureTrendsHandler(c echo.Context) error {
	type captureBody struct {
		PeriodType  string     `json:"period_type" validate:"required,oneof=hour day"`
		PeriodStart *time.Time `json:"period_start"`
		Kind        string     `json:"kind" validate:"omitempty,oneof=story subject category"`
	}

	data := new(captureBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}

	typ, _ := trend.ParsePeriodType(data.PeriodType)
	jobs := c.(*middleware.AppContext).App.Jobs
	err := jobs.CaptureTrends(c.Request().Context(), queue.CaptureTrendsMsg{
		PeriodType:  typ,
		PeriodStart: data.PeriodStart,
		Kind:        trend.Kind(data.Kind),
	})
	return enqueued(c, queue.CaptureTrendsQueue, err)
}

func CleanupHandler(c echo.Context) error {
	jobs := c.(*middleware.AppContext).App.Jobs
	err := jobs.Cleanup(c.Request().Context(), "api")
	return enqueued(c, queue.CleanupTrendsQueue, err)
}
