package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

const (
	StorageBackendAzure = "azure"
	StorageBackendS3    = "s3"
)

// Config holds every setting the service reads from the environment.
type Config struct {
	Port string `env:"APP_PORT,default=5000"`

	StorageBackend string `env:"STORAGE_BACKEND,default=azure"`

	// Azure Blob Storage
	AzureStorageConnectionString string `env:"AZURE_STORAGE_CONNECTION_STRING"`
	ContainerName                string `env:"CONTAINER_NAME"`
	AzureStorageAccountName      string `env:"AZURE_STORAGE_ACCOUNT_NAME"`
	AzureStorageAccountKey       string `env:"AZURE_STORAGE_ACCOUNT_KEY"`

	// S3-compatible storage
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3Region          string `env:"S3_REGION,default=us-east-1"`
	S3Bucket          string `env:"AWS_BUCKET"`

	// Content Understanding
	CUEndpoint        string `env:"CU_ENDPOINT"`
	CUAPIVersion      string `env:"CU_API_VERSION"`
	CUSubscriptionKey string `env:"CU_SUBSCRIPTION_KEY"`
	// Service principal used for bearer tokens when no subscription key is
	// set; the default credential chain is used when these are empty too.
	AzureTenantID     string `env:"AZURE_TENANT_ID"`
	AzureClientID     string `env:"AZURE_CLIENT_ID"`
	AzureClientSecret string `env:"AZURE_CLIENT_SECRET"`

	CUCreateTimeoutSeconds int `env:"CU_CREATE_TIMEOUT_SECONDS,default=120"`
	CUAnalyzeTimeoutSecs   int `env:"CU_ANALYZE_TIMEOUT_SECONDS,default=3600"`
	CUPollIntervalSeconds  int `env:"CU_POLL_INTERVAL_SECONDS,default=2"`

	SpoolDir         string `env:"SPOOL_DIR"`
	MaxUploadMB      int    `env:"MAX_UPLOAD_MB,default=512"`
	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS,default=*"`

	// Run ledger; disabled when PostgresHost is empty
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     string `env:"POSTGRES_PORT,default=5432"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE,default=disable"`

	// Events and cleanup queue; disabled when ValkeyHost is empty
	ValkeyHost               string `env:"VALKEY_HOST"`
	ValkeyPort               string `env:"VALKEY_PORT,default=6379"`
	ValkeyUseSentinel        bool   `env:"VALKEY_USE_SENTINEL,default=false"`
	ValkeySentinelAddress    string `env:"VALKEY_SENTINEL_ADDRESS"`
	ValkeySentinelMasterName string `env:"VALKEY_SENTINEL_MASTER_NAME,default=mymaster"`
}

// LoadConfig reads the configuration from the process environment. A .env
// file in the working directory has already been loaded by this package.
func LoadConfig() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	return &cfg, nil
}

// Validate reports every required setting that is missing for the selected
// storage backend and the analysis service.
func (c *Config) Validate() error {
	var errs []error
	missing := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("missing required environment variable: %s", key))
		}
	}

	switch c.StorageBackend {
	case StorageBackendAzure:
		missing("AZURE_STORAGE_CONNECTION_STRING", c.AzureStorageConnectionString)
		missing("CONTAINER_NAME", c.ContainerName)
		missing("AZURE_STORAGE_ACCOUNT_NAME", c.AzureStorageAccountName)
		missing("AZURE_STORAGE_ACCOUNT_KEY", c.AzureStorageAccountKey)
	case StorageBackendS3:
		missing("S3_ACCESS_KEY_ID", c.S3AccessKeyID)
		missing("S3_SECRET_ACCESS_KEY", c.S3SecretAccessKey)
		missing("AWS_BUCKET", c.S3Bucket)
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q (valid: %s, %s)", c.StorageBackend, StorageBackendAzure, StorageBackendS3))
	}

	missing("CU_ENDPOINT", c.CUEndpoint)
	missing("CU_API_VERSION", c.CUAPIVersion)

	if c.CUCreateTimeoutSeconds <= 0 || c.CUAnalyzeTimeoutSecs <= 0 || c.CUPollIntervalSeconds <= 0 {
		errs = append(errs, errors.New("polling timeouts and interval must be positive"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}

	return errors.Join(errs...)
}

// HasServicePrincipal reports whether a complete client secret credential
// is configured.
func (c *Config) HasServicePrincipal() bool {
	return c.AzureTenantID != "" && c.AzureClientID != "" && c.AzureClientSecret != ""
}

func (c *Config) CreateTimeout() time.Duration {
	return time.Duration(c.CUCreateTimeoutSeconds) * time.Second
}

func (c *Config) AnalyzeTimeout() time.Duration {
	return time.Duration(c.CUAnalyzeTimeoutSecs) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.CUPollIntervalSeconds) * time.Second
}

// LedgerEnabled reports whether runs are recorded in Postgres.
func (c *Config) LedgerEnabled() bool {
	return c.PostgresHost != ""
}

// ValkeyEnabled reports whether events and cleanup messages are published.
func (c *Config) ValkeyEnabled() bool {
	return c.ValkeyHost != "" || c.ValkeyUseSentinel
}

// CORSOrigins splits CORS_ALLOW_ORIGINS on commas. A single "*" allows all.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
