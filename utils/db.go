package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var DB *sql.DB

// InitDB initializes the PostgreSQL database connection
func InitDB(cfg *Config, logger *zap.Logger) error {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresSSLMode)

	var err error
	DB, err = sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established successfully")

	return nil
}

// CreateSchema creates the necessary database tables if they don't exist
func CreateSchema(logger *zap.Logger) error {
	if DB == nil {
		return fmt.Errorf("database connection is nil; call InitDB first")
	}

	ctx := context.Background()

	// Create analysis_runs table
	_, err := DB.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS analysis_runs (
            id TEXT PRIMARY KEY,
            analyzer_id TEXT NOT NULL,
            blob_key TEXT NOT NULL DEFAULT '',
            media_name TEXT NOT NULL DEFAULT '',
            schema_name TEXT NOT NULL DEFAULT '',
            status VARCHAR(32) NOT NULL,
            analyzer_state VARCHAR(32) NOT NULL DEFAULT 'none',
            error TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(analyzer_id)
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to create analysis_runs table: %w", err)
	}

	// Create indexes
	_, err = DB.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS idx_runs_created_at ON analysis_runs(created_at);
        CREATE INDEX IF NOT EXISTS idx_runs_analyzer_state ON analysis_runs(analyzer_state);
    `)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logger.Info("Database schema created successfully")
	return nil
}

// CloseDB closes the database connection
func CloseDB(logger *zap.Logger) error {
	if DB != nil {
		logger.Info("Closing database connection")
		return DB.Close()
	}
	return nil
}
