package analyzer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"video-tagging-api/runs"
	"video-tagging-api/utils"
)

// Sweep deletes analyzers that may have leaked from runs created before
// cutoff and returns how many were removed. A failed deletion is logged and
// left for the next sweep.
func Sweep(ctx context.Context, deleter Deleter, ledger runs.Store, cutoff time.Time, logger *zap.Logger) (int, error) {
	sugar := logger.Sugar()

	leaked, err := ledger.Leaked(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	sugar.Infow("Sweeping leaked analyzers",
		"count", len(leaked),
		"cutoff", cutoff)

	deleted := 0
	for _, run := range leaked {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := ReleaseAnalyzer(ctx, deleter, ledger, run.AnalyzerID, logger); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}

// ReleaseAnalyzer deletes analyzerID and records the outcome in the ledger.
func ReleaseAnalyzer(ctx context.Context, deleter Deleter, ledger runs.Store, analyzerID string, logger *zap.Logger) error {
	sugar := logger.Sugar()

	if err := deleter.DeleteAnalyzer(ctx, analyzerID); err != nil {
		utils.AnalyzerDeleteFailures.Add(1)
		sugar.Errorw("Analyzer deletion failed",
			"analyzer_id", analyzerID,
			"error", err)
		return err
	}
	utils.AnalyzersDeleted.Add(1)

	if err := ledger.SetAnalyzerState(ctx, analyzerID, runs.AnalyzerDeleted); err != nil && !errors.Is(err, runs.ErrNotFound) {
		sugar.Warnw("Run ledger write failed",
			"analyzer_id", analyzerID,
			"error", err)
	}
	sugar.Infow("Analyzer deleted",
		"analyzer_id", analyzerID)
	return nil
}
