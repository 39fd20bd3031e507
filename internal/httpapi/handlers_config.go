package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foreman/internal/shared/config"
)

// GetConfig returns the broker/queue coordinates a worker process needs to
// connect, minus the broker password. Requires authentication, same as
// every other /api/v1 route.
func (d *Deps) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"redis": redisCoordinates(d.BrokerConfig),
		"queues": queueNames(d.BrokerConfig),
	})
}

// GetRedisConfig returns just the broker connection coordinates.
func (d *Deps) GetRedisConfig(c *gin.Context) {
	c.JSON(http.StatusOK, redisCoordinates(d.BrokerConfig))
}

// GetQueueConfig returns just the queue names.
func (d *Deps) GetQueueConfig(c *gin.Context) {
	c.JSON(http.StatusOK, queueNames(d.BrokerConfig))
}

func redisCoordinates(cfg config.BrokerConfig) gin.H {
	return gin.H{
		"host": cfg.Host,
		"port": cfg.Port,
		"db":   cfg.DB,
	}
}

func queueNames(cfg config.BrokerConfig) gin.H {
	return gin.H{
		"tasksQueue":   cfg.TasksQueue,
		"resultsQueue": cfg.ResultsQueue,
	}
}
