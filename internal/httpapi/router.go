// Package httpapi is Foreman's HTTP delivery boundary: a gin router binding
// JSON requests to the run/task/rundata services, each invoked inside a
// single tenant-scoped transaction per request.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"foreman/internal/shared/logging"
)

// NewRouter builds the full HTTP handler, splitting wiring (Deps) from
// tuning (Config).
func NewRouter(deps *Deps, cfg Config) http.Handler {
	logger := logging.NewComponentLogger("Router")
	latency := logging.NewLatencyLogger("HTTP")

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger, latency))
	r.MaxMultipartMemory = cfg.MaxTaskBodyBytes

	r.GET("/health", deps.Health)

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(cfg.AuthToken), TenantMiddleware())
	{
		api.POST("/runs", deps.CreateRun)
		api.GET("/runs", deps.ListRuns)
		api.GET("/runs/:id", deps.GetRun)
		api.PATCH("/runs/:id", deps.UpdateRun)

		api.POST("/tasks", deps.CreateTask)
		api.GET("/tasks", deps.ListTasks)
		api.GET("/tasks/:id", deps.GetTask)
		api.PATCH("/tasks/:id", deps.UpdateTask)

		api.POST("/runs/:id/data", deps.CreateRunData)
		api.GET("/runs/:id/data", deps.QueryRunData)
		api.PATCH("/runs/:id/data/:dataId/tags", deps.UpdateRunDataTags)
		api.DELETE("/runs/:id/data", deps.DeleteRunData)

		api.GET("/config", deps.GetConfig)
		api.GET("/config/redis", deps.GetRedisConfig)
		api.GET("/config/queues", deps.GetQueueConfig)
	}

	return r
}

func requestLogger(logger logging.Logger, latency *logging.LatencyLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		elapsed := time.Since(start)
		logger.Info("%s %s -> %d (%s)", c.Request.Method, path, c.Writer.Status(), elapsed)
		latency.Record(c.Request.Method+" "+path, elapsed.Milliseconds())
	}
}
