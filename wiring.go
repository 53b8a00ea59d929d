package main

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.uber.org/zap"

	"video-tagging-api/contentunderstanding"
	"video-tagging-api/runs"
	"video-tagging-api/storage"
	"video-tagging-api/utils"
)

func loadConfig() (*utils.Config, error) {
	cfg, err := utils.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLedger opens the Postgres run ledger when configured and falls back to
// an in-memory one otherwise.
func newLedger(cfg *utils.Config, logger *zap.Logger) (runs.Store, func(), error) {
	if !cfg.LedgerEnabled() {
		logger.Info("Run ledger kept in memory")
		return runs.NewMemoryStore(), func() {}, nil
	}

	// Initialize PostgreSQL database
	if err := utils.InitDB(cfg, logger); err != nil {
		return nil, nil, err
	}
	closeDB := func() { _ = utils.CloseDB(logger) }

	// Create database schema
	if err := utils.CreateSchema(logger); err != nil {
		closeDB()
		return nil, nil, err
	}
	return runs.NewPostgresStore(utils.DB), closeDB, nil
}

func newStore(ctx context.Context, cfg *utils.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case utils.StorageBackendS3:
		return storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:        cfg.S3EndpointURL,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
		}, logger)
	default:
		return storage.NewAzureStore(cfg.AzureStorageConnectionString, cfg.ContainerName,
			cfg.AzureStorageAccountName, cfg.AzureStorageAccountKey, logger)
	}
}

// newService builds the Content Understanding client with credentials
// resolved once, here.
func newService(cfg *utils.Config, logger *zap.Logger) (*contentunderstanding.Client, error) {
	opts := &contentunderstanding.ClientOptions{
		SubscriptionKey: cfg.CUSubscriptionKey,
		PollInterval:    cfg.PollInterval(),
	}

	if cfg.CUSubscriptionKey == "" {
		cred, err := newTokenCredential(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure credential: %w", err)
		}
		opts.Credential = cred
		logger.Info("Analysis service uses bearer token authentication")
	} else {
		logger.Info("Analysis service uses subscription key authentication")
	}

	return contentunderstanding.NewClient(cfg.CUEndpoint, cfg.CUAPIVersion, opts)
}

func newTokenCredential(cfg *utils.Config) (azcore.TokenCredential, error) {
	if cfg.HasServicePrincipal() {
		return azidentity.NewClientSecretCredential(cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}
