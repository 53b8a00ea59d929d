package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"video-tagging-api/analyzer"
)

// HandleAnalyze uploads the "file" part, analyzes it with an analyzer built
// from the "schema" part and returns the service's result JSON unchanged.
func HandleAnalyze(logger *zap.Logger, pipeline *analyzer.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get the media and schema files (form keys: file, schema)
		mediaFile, err := c.FormFile("file")
		if err != nil {
			respondAnalysisError(c, logger, analyzer.InputError("read upload", fmt.Errorf(`form part "file": %w`, err)))
			return
		}
		schemaFile, err := c.FormFile("schema")
		if err != nil {
			respondAnalysisError(c, logger, analyzer.InputError("read upload", fmt.Errorf(`form part "schema": %w`, err)))
			return
		}

		result, err := pipeline.Run(c.Request.Context(), analyzer.AnalysisRequest{
			Media:  mediaFile,
			Schema: schemaFile,
		})
		if err != nil {
			respondAnalysisError(c, logger, err)
			return
		}

		c.Header("X-Run-Id", result.RunID)
		c.Data(http.StatusOK, "application/json; charset=utf-8", result.Body)
	}
}

// respondAnalysisError answers 500 for every failure; the kind field tells
// input errors from infrastructure errors.
func respondAnalysisError(c *gin.Context, logger *zap.Logger, err error) {
	kind := analyzer.KindOf(err)
	if kind == analyzer.KindInput {
		logger.Info("Analysis request rejected", zap.Error(err))
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": err.Error(),
		"kind":  kind,
	})
}
