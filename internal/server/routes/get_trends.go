package routes

import (
	"net/http"
	"time"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/lemonslut/that-news-thing-again/internal/server/middleware"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

type trendRow struct {
	Kind         trend.Kind `json:"kind"`
	ID           int64      `json:"id"`
	Label        string     `json:"label"`
	Rank         int        `json:"rank"`
	PreviousRank *int       `json:"previous_rank"`
	RankChange   *int       `json:"rank_change"`
	Count        int        `json:"article_count"`
	Velocity     float64    `json:"velocity"`
	NewEntry     bool       `json:"new_entry"`
	Rising       bool       `json:"rising"`
	Falling      bool       `json:"falling"`
}

type trendsResponse struct {
	Period trend.Period `json:"period"`
	Trends []trendRow   `json:"trends"`
}

func toTrendRow(s trend.Snapshot) trendRow {
	row := trendRow{
		Kind:         s.Entity.Kind,
		ID:           s.Entity.ID,
		Label:        s.Label,
		Rank:         s.Rank,
		PreviousRank: s.PreviousRank,
		Count:        s.Count,
		Velocity:     s.Velocity,
		NewEntry:     s.IsNewEntry(),
		Rising:       s.IsRising(),
		Falling:      s.IsFalling(),
	}
	if change, ok := s.RankChange(); ok {
		row.RankChange = &change
	}
	return row
}

// GetTrendsHandler lists one period's ranking. Without "at" the most
// recently closed period is shown.
func GetTrendsHandler(c echo.Context) error {
	type getTrendsParams struct {
		Period string `query:"period" validate:"omitempty,oneof=hour day"`
		At     string `query:"at"`
		Kind   string `query:"kind" validate:"omitempty,oneof=story subject category"`
		Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
	}

	params := new(getTrendsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	typ := trend.PeriodDay
	if params.Period != "" {
		typ, _ = trend.ParsePeriodType(params.Period)
	}

	engine := c.(*middleware.AppContext).App.Trends
	period := engine.LastClosedPeriod(typ)
	if params.At != "" {
		at, err := time.Parse(time.RFC3339, params.At)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
		}
		period = engine.Period(typ, at)
	}

	rows, err := engine.List(c.Request().Context(), trend.Query{
		Kind:        trend.Kind(params.Kind),
		PeriodType:  typ,
		PeriodStart: period.Start,
		Limit:       params.Limit,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	res := trendsResponse{Period: period, Trends: make([]trendRow, 0, len(rows))}
	for _, r := range rows {
		res.Trends = append(res.Trends, toTrendRow(r))
	}
	return c.JSON(http.StatusOK, res)
}

// GetTrendPeriodsHandler lists the period starts that have snapshots.
func GetTrendPeriodsHandler(c echo.Context) error {
	type getPeriodsParams struct {
		Period string `query:"period" validate:"omitempty,oneof=hour day"`
		Limit  int    `query:"limit" validate:"omitempty,min=1,max=500"`
	}

	params := new(getPeriodsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	typ := trend.PeriodDay
	if params.Period != "" {
		typ, _ = trend.ParsePeriodType(params.Period)
	}

	engine := c.(*middleware.AppContext).App.Trends
	starts, err := engine.Periods(c.Request().Context(), typ, params.Limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if starts == nil {
		starts = []time.Time{}
	}

	return c.JSON(http.StatusOK, map[string]any{"period_type": typ, "periods": starts})
}
