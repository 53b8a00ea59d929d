package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"go.uber.org/zap"
)

// AzureStore keeps media in an Azure Blob Storage container and signs URLs
// with the account's shared key.
type AzureStore struct {
	client     *azblob.Client
	cred       *azblob.SharedKeyCredential
	serviceURL string
	container  string
	now        func() time.Time
}

// NewAzureStore connects with connStr and signs with accountName/accountKey.
func NewAzureStore(connStr, container, accountName, accountKey string, logger *zap.Logger) (*AzureStore, error) {
	logger.Info("Initializing blob storage service", zap.String("backend", "azure"))

	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	s, err := newAzureSigner(accountName, accountKey, container)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

func newAzureSigner(accountName, accountKey, container string) (*AzureStore, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid storage account key: %w", err)
	}
	return &AzureStore{
		cred:       cred,
		serviceURL: fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		container:  container,
		now:        time.Now,
	}, nil
}

func (s *AzureStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	opts := &azblob.UploadStreamOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	if _, err := s.client.UploadStream(ctx, s.container, key, body, opts); err != nil {
		return fmt.Errorf("upload blob failed: %w", err)
	}
	return nil
}

func (s *AzureStore) SignedURL(_ context.Context, key string, ttl time.Duration) (SignedURL, error) {
	// SAS times have second precision
	expiry := s.now().UTC().Truncate(time.Second).Add(ttl)

	qp, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		ExpiryTime:    expiry,
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
		ContainerName: s.container,
		BlobName:      key,
	}.SignWithSharedKey(s.cred)
	if err != nil {
		return SignedURL{}, fmt.Errorf("failed to sign blob url: %w", err)
	}

	return SignedURL{
		URL:       fmt.Sprintf("%s/%s/%s?%s", s.serviceURL, s.container, url.PathEscape(key), qp.Encode()),
		ExpiresAt: expiry,
	}, nil
}
