package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"video-tagging-api/runs"
	"video-tagging-api/storage"
	"video-tagging-api/utils"
)

// Options bounds the blocking steps of a run.
type Options struct {
	CreateTimeout  time.Duration
	AnalyzeTimeout time.Duration
	DeleteTimeout  time.Duration
	SignedURLTTL   time.Duration
	// LedgerTimeout bounds each run ledger write.
	LedgerTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		CreateTimeout:  120 * time.Second,
		AnalyzeTimeout: 3600 * time.Second,
		DeleteTimeout:  30 * time.Second,
		SignedURLTTL:   storage.SignedURLTTL,
		LedgerTimeout:  5 * time.Second,
	}
}

// Pipeline uploads media, creates a one-off analyzer from the caller's
// schema, analyzes the media through a signed URL and releases the analyzer.
type Pipeline struct {
	spool    *utils.Spool
	store    storage.Store
	service  Service
	ledger   runs.Store
	notifier Notifier
	logger   *zap.Logger
	opts     Options
}

func NewPipeline(spool *utils.Spool, store storage.Store, service Service, ledger runs.Store, notifier Notifier, logger *zap.Logger, opts Options) *Pipeline {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = DefaultOptions().LedgerTimeout
	}
	if ledger == nil {
		ledger = runs.NewMemoryStore()
	}
	return &Pipeline{
		spool:    spool,
		store:    store,
		service:  service,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// Run executes one analysis. Every analyzer whose creation completed is
// deleted before Run returns.
func (p *Pipeline) Run(ctx context.Context, req AnalysisRequest) (result *AnalysisResult, err error) {
	if req.Media == nil {
		return nil, InputError("read upload", errors.New(`missing form part "file"`))
	}
	if req.Schema == nil {
		return nil, InputError("read upload", errors.New(`missing form part "schema"`))
	}

	run := &runs.Run{
		ID:            uuid.NewString(),
		AnalyzerID:    NewAnalyzerID(),
		MediaName:     req.Media.Filename,
		SchemaName:    req.Schema.Filename,
		Status:        runs.StatusReceived,
		AnalyzerState: runs.AnalyzerNone,
	}
	logger := p.logger.With(zap.String("run_id", run.ID), zap.String("analyzer_id", run.AnalyzerID))
	logger.Info("Starting video analysis process")
	utils.AnalysesStarted.Add(1)

	createCtx, cancel := context.WithTimeout(ctx, p.opts.LedgerTimeout)
	if lerr := p.ledger.Create(createCtx, run); lerr != nil {
		logger.Warn("Run ledger write failed", zap.Error(lerr))
	}
	cancel()
	defer func() { p.finish(run, err, logger) }()

	// Stage both parts locally
	media, err := p.spool.Save(req.Media)
	if err != nil {
		return nil, internalError("save media", err)
	}
	defer p.spool.Remove(media)

	schema, err := p.spool.Save(req.Schema)
	if err != nil {
		return nil, internalError("save schema", err)
	}
	defer p.spool.Remove(schema)

	template, err := p.spool.ReadAll(schema)
	if err != nil {
		return nil, internalError("read schema", err)
	}
	if !json.Valid(template) {
		return nil, InputError("read schema", fmt.Errorf("schema %q is not valid JSON", schema.Name))
	}

	// Upload the media and sign a read-only URL for the service
	run.BlobKey = utils.ObjectKey(media.Name)
	if err := p.upload(ctx, media, run.BlobKey); err != nil {
		return nil, storageError("upload media", err)
	}
	logger.Debug("Media uploaded", zap.String("blob_key", run.BlobKey), zap.Int64("size_bytes", media.Size))
	p.advance(run, runs.StatusUploaded, logger)

	signed, err := p.store.SignedURL(ctx, run.BlobKey, p.opts.SignedURLTTL)
	if err != nil {
		return nil, storageError("sign media url", err)
	}

	// Create the analyzer
	op, err := p.service.BeginCreateAnalyzer(ctx, run.AnalyzerID, template)
	if err != nil {
		p.setAnalyzerState(run, runs.AnalyzerCreateFailed, logger)
		return nil, serviceError("create analyzer", err)
	}
	if _, err := p.service.PollResult(ctx, op, p.opts.CreateTimeout); err != nil {
		p.setAnalyzerState(run, runs.AnalyzerCreateFailed, logger)
		return nil, serviceError("create analyzer", err)
	}
	p.setAnalyzerState(run, runs.AnalyzerCreated, logger)
	defer p.release(ctx, run, logger)

	// Analyze the media
	p.advance(run, runs.StatusAnalyzing, logger)
	op, err = p.service.BeginAnalyze(ctx, run.AnalyzerID, signed.URL)
	if err != nil {
		return nil, serviceError("analyze", err)
	}
	body, err := p.service.PollResult(ctx, op, p.opts.AnalyzeTimeout)
	if err != nil {
		return nil, serviceError("analyze", err)
	}

	return &AnalysisResult{RunID: run.ID, Body: body}, nil
}

func (p *Pipeline) upload(ctx context.Context, media *utils.SpooledFile, key string) error {
	f, err := p.spool.Open(media)
	if err != nil {
		return err
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return fmt.Errorf("detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	return p.store.Upload(ctx, key, f, mtype.String())
}

// release deletes the run's analyzer on a context detached from the request,
// which may already be cancelled.
func (p *Pipeline) release(ctx context.Context, run *runs.Run, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.DeleteTimeout)
	defer cancel()

	if err := p.service.DeleteAnalyzer(ctx, run.AnalyzerID); err != nil {
		utils.AnalyzerDeleteFailures.Add(1)
		logger.Error("Analyzer deletion failed", zap.Error(err))
		p.setAnalyzerState(run, runs.AnalyzerDeleteFailed, logger)
		if nerr := p.notifier.AnalyzerCleanup(ctx, run.AnalyzerID); nerr != nil {
			logger.Warn("Cleanup request publish failed", zap.Error(nerr))
		}
		return
	}
	utils.AnalyzersDeleted.Add(1)
	p.setAnalyzerState(run, runs.AnalyzerDeleted, logger)
}

func (p *Pipeline) finish(run *runs.Run, err error, logger *zap.Logger) {
	if err != nil {
		run.Status = runs.StatusFailed
		run.Error = err.Error()
		utils.AnalysesFailed.Add(1)
		if KindOf(err) == KindTimeout {
			utils.AnalysesTimedOut.Add(1)
		}
		logger.Error("Video analysis failed", zap.String("kind", string(KindOf(err))), zap.Error(err))
	} else {
		run.Status = runs.StatusSucceeded
		utils.AnalysesSucceeded.Add(1)
		logger.Info("Video analysis completed successfully")
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.LedgerTimeout)
	defer cancel()
	p.save(ctx, run, logger)
	if nerr := p.notifier.AnalysisComplete(ctx, *run); nerr != nil {
		logger.Warn("Completion event publish failed", zap.Error(nerr))
	}
}

func (p *Pipeline) advance(run *runs.Run, status runs.Status, logger *zap.Logger) {
	run.Status = status
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.LedgerTimeout)
	defer cancel()
	p.save(ctx, run, logger)
}

// setAnalyzerState is the only writer of the run's analyzer state; save
// leaves it alone, so a cleanup consumer's "deleted" is never overwritten.
func (p *Pipeline) setAnalyzerState(run *runs.Run, state runs.AnalyzerState, logger *zap.Logger) {
	run.AnalyzerState = state
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.LedgerTimeout)
	defer cancel()
	if err := p.ledger.SetAnalyzerState(ctx, run.AnalyzerID, state); err != nil {
		logger.Warn("Run ledger write failed", zap.Error(err))
	}
}

// save is best effort: a ledger outage never fails an analysis.
func (p *Pipeline) save(ctx context.Context, run *runs.Run, logger *zap.Logger) {
	if err := p.ledger.Update(ctx, run); err != nil {
		logger.Warn("Run ledger write failed", zap.Error(err))
	}
}
