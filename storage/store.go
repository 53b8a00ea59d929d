// Package storage uploads media to blob storage and mints read-only signed
// URLs for it.
package storage

import (
	"context"
	"io"
	"time"
)

// SignedURLTTL is how long a signed media URL stays valid.
const SignedURLTTL = time.Hour

// Store is the blob storage used for uploaded media.
type Store interface {
	// Upload writes body under key, replacing any existing object.
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error

	// SignedURL returns a read-only URL for key that expires after ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (SignedURL, error)
}

// SignedURL is a URL with an embedded, time-boxed read permission.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}
