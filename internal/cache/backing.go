package cache

import (
	"context"
	"time"

	"github.com/svank/appa-backend/internal/record"
)

// Backing is a persistent store for the four record collections: authors,
// documents, progress, and rendered results. Implementations exist for a
// filesystem tree and for a SQLite document store.
//
// Load methods return an error wrapping ErrMiss when a key is absent.
// Multi-key loads do not guarantee result order; they return whatever was
// found, plus an ErrMiss-wrapping error if any key was absent.
type Backing interface {
	// Refresh prepares the store for use (creates directories, opens
	// tables) and re-scans any cached listings.
	Refresh(ctx context.Context) error

	StoreDocument(ctx context.Context, key string, doc *record.CompressedDocument) error
	LoadDocument(ctx context.Context, key string) (*record.CompressedDocument, error)
	LoadDocuments(ctx context.Context, keys []string) ([]*record.CompressedDocument, error)
	DeleteDocument(ctx context.Context, key string) error

	StoreAuthor(ctx context.Context, key string, rec *record.CompressedAuthor) error
	LoadAuthor(ctx context.Context, key string) (*record.CompressedAuthor, error)
	LoadAuthors(ctx context.Context, keys []string) ([]*record.CompressedAuthor, error)
	DeleteAuthor(ctx context.Context, key string) error
	AuthorsAreInCache(ctx context.Context, keys []string) ([]bool, error)

	StoreProgress(ctx context.Context, key string, p *record.Progress) error
	LoadProgress(ctx context.Context, key string) (*record.Progress, error)
	DeleteProgress(ctx context.Context, key string) error

	StoreResult(ctx context.Context, key string, data []byte) error
	// LoadResult also reports when the result was stored, for TTL checks.
	LoadResult(ctx context.Context, key string) ([]byte, time.Time, error)
	ResultIsInCache(ctx context.Context, key string) (bool, error)
	DeleteResult(ctx context.Context, key string) error

	// ClearStaleData removes expired entries from the selected collections.
	ClearStaleData(ctx context.Context, opts ClearOptions) error

	// Batch runs fn with writes buffered; the buffer commits when fn
	// returns, or earlier if an internal budget is exceeded.
	Batch(ctx context.Context, fn func() error) error
}

// ClearOptions selects which collections ClearStaleData sweeps.
type ClearOptions struct {
	Authors   bool
	Documents bool
	Progress  bool
	Results   bool
}

// ClearAll sweeps every collection.
func ClearAll() ClearOptions {
	return ClearOptions{Authors: true, Documents: true, Progress: true, Results: true}
}
