package valkeystore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valkey-io/valkey-go/valkeycompat"

	"video-tagging-api/runs"
)

const (
	AnalysisCompleteChannel = "analysis_complete"
	AnalyzerCleanupChannel  = "analyzer_cleanup"
)

// CompletionEvent is published on AnalysisCompleteChannel after every run.
type CompletionEvent struct {
	RunID         string             `json:"runId"`
	AnalyzerID    string             `json:"analyzerId"`
	Status        runs.Status        `json:"status"`
	AnalyzerState runs.AnalyzerState `json:"analyzerState"`
	Error         string             `json:"error,omitempty"`
	FinishedAt    time.Time          `json:"finishedAt"`
}

// CleanupRequest is published on AnalyzerCleanupChannel when an analyzer
// could not be deleted in-request.
type CleanupRequest struct {
	AnalyzerID  string    `json:"analyzerId"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Notifier publishes run events over Valkey pub/sub.
type Notifier struct {
	client valkeycompat.Cmdable
}

func NewNotifier(client valkeycompat.Cmdable) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) AnalysisComplete(ctx context.Context, run runs.Run) error {
	return n.publish(ctx, AnalysisCompleteChannel, CompletionEvent{
		RunID:         run.ID,
		AnalyzerID:    run.AnalyzerID,
		Status:        run.Status,
		AnalyzerState: run.AnalyzerState,
		Error:         run.Error,
		FinishedAt:    time.Now().UTC(),
	})
}

func (n *Notifier) AnalyzerCleanup(ctx context.Context, analyzerID string) error {
	return n.publish(ctx, AnalyzerCleanupChannel, CleanupRequest{
		AnalyzerID:  analyzerID,
		RequestedAt: time.Now().UTC(),
	})
}

func (n *Notifier) publish(ctx context.Context, channel string, payload any) error {
	message, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, channel, string(message)).Err()
}
