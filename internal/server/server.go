// Package server exposes the archive and exploration surface over HTTP:
// auth, archived runs and their ideas, full-text search, on-demand
// explorations, and cron schedules that fire them recurringly.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/mohammad-safakhou/ideaforge/config"
	"github.com/mohammad-safakhou/ideaforge/internal/exploration"
	"github.com/mohammad-safakhou/ideaforge/internal/index"
	"github.com/mohammad-safakhou/ideaforge/internal/store"
)

// Run starts the HTTP API and the schedule ticker, blocking until the server
// exits.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}
	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}

	idx, err := index.Open(cfg.Index.Path)
	if err != nil {
		return err
	}
	defer idx.Close()

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret or IDEAFORGE_JWT_SECRET)")
	}
	auth := &AuthHandler{Store: st, Secret: []byte(cfg.Server.JWTSecret)}

	var rdb *redis.Client
	if cfg.Storage.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	}

	engine := exploration.NewEngine(cfg)
	launcher := &Launcher{
		Store:       st,
		Index:       idx,
		Engine:      engine,
		SnapshotDir: cfg.General.SnapshotDir,
		Logger:      log.New(log.Writer(), "[LAUNCH] ", log.LstdFlags),
	}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	protected := func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, auth.Secret) }

	runs := api.Group("/runs")
	runs.Use(protected)
	rh := &RunsHandler{Store: st, Launcher: launcher, TopK: cfg.Search.TopK}
	rh.Register(runs)

	schedules := api.Group("/schedules")
	schedules.Use(protected)
	sh := &SchedulesHandler{Store: st}
	sh.Register(schedules)

	searchGroup := api.Group("/search")
	searchGroup.Use(protected)
	searchGroup.GET("", (&SearchHandler{Index: idx}).search)

	sched := &Scheduler{
		Store:    st,
		Rdb:      rdb,
		Launcher: launcher,
		Stop:     make(chan struct{}),
		Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
	sched.Start()
	defer close(sched.Stop)

	return e.Start(cfg.Server.Address)
}
