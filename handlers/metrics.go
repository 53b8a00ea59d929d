package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"video-tagging-api/utils"
)

func HandleMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"analyses_started_total":         utils.AnalysesStarted.Value(),
			"analyses_succeeded_total":       utils.AnalysesSucceeded.Value(),
			"analyses_failed_total":          utils.AnalysesFailed.Value(),
			"analyses_timed_out_total":       utils.AnalysesTimedOut.Value(),
			"analyzers_deleted_total":        utils.AnalyzersDeleted.Value(),
			"analyzer_delete_failures_total": utils.AnalyzerDeleteFailures.Value(),
		})
	}
}
