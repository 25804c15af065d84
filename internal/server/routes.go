package server

import (
	"github.com/lemonslut/that-news-thing-again/internal/server/middleware"
	"github.com/lemonslut/that-news-thing-again/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Trend routes
	apiRoutes.GET("/trends", routes.GetTrendsHandler)
	apiRoutes.GET("/trends/periods", routes.GetTrendPeriodsHandler)

	// Story routes
	apiRoutes.GET("/stories/:id", routes.GetStoryHandler)

	// Job routes
	apiRoutes.POST("/articles/:id/cluster", routes.ClusterArticleHandler, middleware.AuthMiddleware)
	jobRoutes := apiRoutes.Group("/jobs", middleware.AuthMiddleware)
	jobRoutes.POST("/sweep", routes.SweepHandler)
	jobRoutes.POST("/trends", routes.CaptureTrendsHandler)
	jobRoutes.POST("/cleanup", routes.CleanupHandler)
}
