// Package storage uploads invoice artifacts to private object storage and
// records them on the invoice row.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

// ObjectStore is a private bucket store with time-limited retrieval links
type ObjectStore interface {
	// Put writes content, replacing any object already at key
	Put(ctx context.Context, bucket, key string, content []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Upload limits
const (
	MaxFileSize = 10 << 20
	URLTTL      = 7 * 24 * time.Hour
)

// Allowed content types for uploads
var allowedContentTypes = map[string]bool{
	"application/pdf":  true,
	"application/xml":  true,
	"text/xml":         true,
	"application/json": true,
}

// ContentTypeAllowed reports whether contentType (parameters ignored) may be stored
func ContentTypeAllowed(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	return allowedContentTypes[strings.ToLower(strings.TrimSpace(base))]
}

// ArtifactPath returns invoices/{invoice_id}/{invoice_number}.{ext}
func ArtifactPath(invoiceID uuid.UUID, invoiceNumber, ext string) string {
	return fmt.Sprintf("invoices/%s/%s.%s", invoiceID, invoiceNumber, ext)
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func invalidPath(bucket, key string) error {
	return model.NewStorageError(model.ErrCodeInvalidObjectPath, bucket+"/"+key, "invalid object path", nil)
}

func notFound(bucket, key string, cause error) error {
	return model.NewStorageError(model.ErrCodeObjectNotFound, bucket+"/"+key, "object does not exist", cause)
}
