package storage

import (
	"context"
	"io"
)

// ObjectStore is the slice of a bucket the report archive writes through.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// URL is where an archived object can be fetched from.
	URL(key string) string
}
