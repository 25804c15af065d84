package routes

import (
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/lemonslut/that-news-thing-again/internal/server/middleware"
	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
)

func GetStoryHandler(c echo.Context) error {
	type getStoryParams struct {
		StoryID int64 `param:"id" validate:"required,min=1"`
	}

	params := new(getStoryParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	reader := c.(*middleware.AppContext).App.Stories
	detail, err := story.Describe(c.Request().Context(), reader, params.StoryID)
	if errors.Is(err, common.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Story not found"})
	}
	if err != nil {
		logger.Error("Failed to load story", "story_id", params.StoryID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, detail)
}
