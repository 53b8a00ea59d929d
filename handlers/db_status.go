package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"video-tagging-api/utils"
)

// HandleDBStatus reports whether the run ledger database answers a ping.
func HandleDBStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		if utils.DB == nil {
			c.JSON(http.StatusOK, gin.H{"connected": false, "ledger": "memory"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err := utils.DB.PingContext(ctx)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"connected": false, "ledger": "postgres", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": true, "ledger": "postgres"})
	}
}
