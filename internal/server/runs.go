package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/store"
)

type RunsHandler struct {
	Store    *store.Store
	Launcher *Launcher
	TopK     int
}

// ExploreRequest is the on-demand exploration payload. Criteria are optional
// and default to the built-in evaluation rubric.
type ExploreRequest struct {
	Title       string              `json:"title"`
	Statement   string              `json:"statement"`
	Constraints []string            `json:"constraints"`
	Criteria    []problem.Criterion `json:"criteria"`
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/ideas", h.ideas)
	g.GET("/:id/top", h.top)
	g.POST("/explore", h.explore)
}

func (h *RunsHandler) list(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *RunsHandler) get(c echo.Context) error {
	run, err := h.Store.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) ideas(c echo.Context) error {
	ideas, err := h.Store.ListIdeas(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ideas": ideas})
}

func (h *RunsHandler) top(c echo.Context) error {
	k, _ := strconv.Atoi(c.QueryParam("k"))
	if k <= 0 {
		k = h.TopK
	}
	ideas, err := h.Store.TopIdeas(c.Request().Context(), c.Param("id"), k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ideas": ideas})
}

func (h *RunsHandler) explore(c echo.Context) error {
	var req ExploreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &problem.Problem{
		Title:       req.Title,
		Statement:   req.Statement,
		Constraints: req.Constraints,
		Criteria:    req.Criteria,
	}
	if len(p.Criteria) == 0 {
		p.Criteria = problem.DefaultCriteria()
	}
	if err := p.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	runID, err := h.Launcher.Start(p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}
