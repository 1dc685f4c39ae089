package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/store"
)

type SchedulesHandler struct {
	Store *store.Store
}

type ScheduleCreateRequest struct {
	Title   string `json:"title"`
	Problem string `json:"problem"` // problem definition YAML
	Cron    string `json:"cron"`
}

type ScheduleToggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *SchedulesHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.PUT("/:id/enabled", h.toggle)
	g.DELETE("/:id", h.remove)
}

func (h *SchedulesHandler) list(c echo.Context) error {
	schedules, err := h.Store.ListSchedules(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"schedules": schedules})
}

func (h *SchedulesHandler) create(c echo.Context) error {
	var req ScheduleCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	switch req.Cron {
	case "@daily", "@hourly":
	default:
		if _, err := cronexpr.Parse(req.Cron); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression: "+err.Error())
		}
	}
	var p problem.Problem
	if err := yaml.Unmarshal([]byte(req.Problem), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid problem yaml: "+err.Error())
	}
	if err := p.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.Store.CreateSchedule(c.Request().Context(), req.Title, req.Problem, req.Cron)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *SchedulesHandler) toggle(c echo.Context) error {
	var req ScheduleToggleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.Store.SetScheduleEnabled(c.Request().Context(), c.Param("id"), req.Enabled)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *SchedulesHandler) remove(c echo.Context) error {
	err := h.Store.DeleteSchedule(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}
