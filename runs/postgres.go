package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps runs in the analysis_runs table created by
// utils.CreateSchema.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const runColumns = `id, analyzer_id, blob_key, media_name, schema_name, status, analyzer_state, error, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, run *Run) error {
	err := p.db.QueryRowContext(ctx, `
        INSERT INTO analysis_runs (id, analyzer_id, blob_key, media_name, schema_name, status, analyzer_state, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at, updated_at
    `, run.ID, run.AnalyzerID, run.BlobKey, run.MediaName, run.SchemaName, run.Status, run.AnalyzerState, run.Error,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, run *Run) error {
	err := p.db.QueryRowContext(ctx, `
        UPDATE analysis_runs
        SET blob_key = $2, status = $3, error = $4, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1
        RETURNING updated_at
    `, run.ID, run.BlobKey, run.Status, run.Error).Scan(&run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (p *PostgresStore) SetAnalyzerState(ctx context.Context, analyzerID string, state AnalyzerState) error {
	res, err := p.db.ExecContext(ctx, `
        UPDATE analysis_runs SET analyzer_state = $2, updated_at = CURRENT_TIMESTAMP
        WHERE analyzer_id = $1
    `, analyzerID, state)
	if err != nil {
		return fmt.Errorf("update analyzer state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Run, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT `+runColumns+`
        FROM analysis_runs
        ORDER BY created_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collect(rows)
}

func (p *PostgresStore) Leaked(ctx context.Context, cutoff time.Time) ([]Run, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT `+runColumns+`
        FROM analysis_runs
        WHERE analyzer_state IN ($1, $2, $3) AND created_at < $4
        ORDER BY created_at ASC
    `, AnalyzerCreated, AnalyzerCreateFailed, AnalyzerDeleteFailed, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list leaked runs: %w", err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	if err := s.Scan(&r.ID, &r.AnalyzerID, &r.BlobKey, &r.MediaName, &r.SchemaName,
		&r.Status, &r.AnalyzerState, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func collect(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	out := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
