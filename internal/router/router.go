// Package router wires the read-only status API.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/handlers"
	"github.com/busimap/stackops/internal/middleware"
	"github.com/busimap/stackops/internal/version"
)

func New(cfg *config.Config, runtime handlers.Runtime, store handlers.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.SecurityHeaders())

	statusHandler := handlers.NewStatusHandler(cfg, runtime)
	runsHandler := handlers.NewRunsHandler(store)
	backupsHandler := handlers.NewBackupsHandler(store)
	logsHandler := handlers.NewLogsHandler(cfg, runtime)

	prefix := r.Group(cfg.Server.PathPrefix)

	prefix.GET("/healthz", statusHandler.Health)

	api := prefix.Group("/api")
	{
		api.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, version.Info())
		})

		api.GET("/services", statusHandler.Services)
		api.GET("/services/:name/logs", logsHandler.Stream)

		api.GET("/runs", runsHandler.List)
		api.GET("/runs/:id", runsHandler.Get)

		api.GET("/backups", backupsHandler.List)
	}

	return r
}
