// Package runs records the lifecycle of each analysis request and the state
// of the analyzer it created, so leaked analyzers can be found and removed.
package runs

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusReceived  Status = "received"
	StatusUploaded  Status = "uploaded"
	StatusAnalyzing Status = "analyzing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type AnalyzerState string

const (
	AnalyzerNone         AnalyzerState = "none"
	AnalyzerCreated      AnalyzerState = "created"
	AnalyzerCreateFailed AnalyzerState = "create_failed"
	AnalyzerDeleted      AnalyzerState = "deleted"
	AnalyzerDeleteFailed AnalyzerState = "delete_failed"
)

// Leaked reports whether an analyzer in state s may still exist on the
// service and nobody is going to delete it.
func (s AnalyzerState) Leaked() bool {
	return s == AnalyzerCreated || s == AnalyzerCreateFailed || s == AnalyzerDeleteFailed
}

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("run not found")

// Run is one POST /analyze invocation. It never holds the analysis result.
type Run struct {
	ID            string        `json:"id"`
	AnalyzerID    string        `json:"analyzer_id"`
	BlobKey       string        `json:"blob_key"`
	MediaName     string        `json:"media_name"`
	SchemaName    string        `json:"schema_name"`
	Status        Status        `json:"status"`
	AnalyzerState AnalyzerState `json:"analyzer_state"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Store persists runs.
type Store interface {
	Create(ctx context.Context, run *Run) error
	// Update writes blob key, status and error of run and refreshes
	// UpdatedAt. The analyzer state is only changed by SetAnalyzerState.
	Update(ctx context.Context, run *Run) error
	// SetAnalyzerState updates the run that owns analyzerID.
	SetAnalyzerState(ctx context.Context, analyzerID string, state AnalyzerState) error
	Get(ctx context.Context, id string) (*Run, error)
	// List returns up to limit runs, newest first.
	List(ctx context.Context, limit int) ([]Run, error)
	// Leaked returns runs created before cutoff whose analyzer may still exist.
	Leaked(ctx context.Context, cutoff time.Time) ([]Run, error)
}
