package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/distill/internal/middleware"
	"github.com/mx-space/distill/internal/modules/extraction"
	"github.com/mx-space/distill/internal/modules/processing/prompt"
	"github.com/mx-space/distill/internal/modules/settings"
	"github.com/mx-space/distill/internal/pkg/response"
)

const apiPrefix = "/api/v1"

func (a *App) registerRoutes() {
	r := a.router
	authMW := middleware.NewAuthenticator(a.db, a.verifier).Middleware()

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	api := r.Group(apiPrefix)

	api.GET("/health", a.health)
	api.GET("/uptime", func(c *gin.Context) {
		uptime := time.Since(processStart)
		response.OK(c, gin.H{
			"timestamp": uptime.Milliseconds(),
			"humanize":  humanizeDuration(uptime),
		})
	})

	extraction.NewHandler(a.service, a.store, a.tasks, a.limiter, a.logger).RegisterRoutes(api, authMW)
	settings.NewHandler(a.settings, a.cfg.Admins).RegisterRoutes(api, authMW)
}

// health GET /health
func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok", "redis": "ok"}
	status := http.StatusOK
	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	}
	if err := a.rc.Raw().Ping(ctx).Err(); err != nil {
		checks["redis"] = "down"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"ok":            status == http.StatusOK,
		"checks":        checks,
		"promptVersion": prompt.Version,
		"jobs":          a.sched.List(),
	})
}
