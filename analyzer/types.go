package analyzer

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"time"

	"github.com/google/uuid"

	"video-tagging-api/contentunderstanding"
	"video-tagging-api/runs"
)

// AnalyzerPrefix starts every analyzer name created by this service.
const AnalyzerPrefix = "video_tag_"

// NewAnalyzerID returns a fresh analyzer name.
func NewAnalyzerID() string {
	return AnalyzerPrefix + uuid.NewString()
}

// AnalysisRequest is one uploaded media file and the analyzer schema to
// interpret it with.
type AnalysisRequest struct {
	Media  *multipart.FileHeader
	Schema *multipart.FileHeader
}

// AnalysisResult is the service's result, passed through verbatim.
type AnalysisResult struct {
	RunID string
	Body  json.RawMessage
}

// Service is the part of the Content Understanding client the pipeline uses.
type Service interface {
	BeginCreateAnalyzer(ctx context.Context, analyzerID string, template []byte) (*contentunderstanding.Operation, error)
	BeginAnalyze(ctx context.Context, analyzerID, fileURL string) (*contentunderstanding.Operation, error)
	PollResult(ctx context.Context, op *contentunderstanding.Operation, timeout time.Duration) (json.RawMessage, error)
	Deleter
}

// Deleter removes analyzers.
type Deleter interface {
	DeleteAnalyzer(ctx context.Context, analyzerID string) error
}

// Notifier publishes run outcomes and analyzers that still need deleting.
type Notifier interface {
	AnalysisComplete(ctx context.Context, run runs.Run) error
	AnalyzerCleanup(ctx context.Context, analyzerID string) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) AnalysisComplete(context.Context, runs.Run) error { return nil }
func (NopNotifier) AnalyzerCleanup(context.Context, string) error    { return nil }
