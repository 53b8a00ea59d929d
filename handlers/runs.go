package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"video-tagging-api/runs"
)

const listLimit = 200

// HandleGetRun returns the ledger entry for a given run
func HandleGetRun(logger *zap.Logger, ledger runs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sugar := logger.Sugar()
		id := c.Param("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		run, err := ledger.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, runs.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}

			sugar.Errorw("Run retrieval failed",
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve run"})
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

// HandleListRuns returns the most recent runs, newest first
func HandleListRuns(logger *zap.Logger, ledger runs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := ledger.List(c.Request.Context(), listLimit)
		if err != nil {
			logger.Error("Run listing failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve runs"})
			return
		}
		if results == nil {
			results = []runs.Run{}
		}
		c.JSON(http.StatusOK, results)
	}
}
