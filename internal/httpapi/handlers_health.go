package httpapi

import "github.com/gin-gonic/gin"

// Health reports storage connectivity, used for readiness probes.
func (d *Deps) Health(c *gin.Context) {
	if err := d.Pools.Healthy(c.Request.Context()); err != nil {
		c.JSON(503, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"status": "ok"})
}
