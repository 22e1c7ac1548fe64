// Package fscache implements cache.Backing as a directory tree, one JSON
// file per key under authors/, documents/, progress/, and results/.
package fscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/record"
)

const (
	authorsDir   = "authors"
	documentsDir = "documents"
	progressDir  = "progress"
	resultsDir   = "results"
)

// Backing stores cache records under a root directory. Safe for concurrent
// use; writes are atomic at the file level but there is no cross-file
// transactionality, matching the Backing contract's best-effort batches.
type Backing struct {
	root string

	mu      sync.RWMutex
	authors map[string]struct{} // listing of authors/, for presence checks
}

var _ cache.Backing = (*Backing)(nil)

// New returns a Backing rooted at dir. Call Refresh before use.
func New(dir string) *Backing {
	return &Backing{root: dir, authors: make(map[string]struct{})}
}

// Refresh creates the subdirectories and re-scans the author listing.
func (b *Backing) Refresh(ctx context.Context) error {
	for _, sub := range []string{authorsDir, documentsDir, progressDir, resultsDir} {
		if err := os.MkdirAll(filepath.Join(b.root, sub), 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(b.root, authorsDir))
	if err != nil {
		return fmt.Errorf("scan author cache: %w", err)
	}
	authors := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		authors[e.Name()] = struct{}{}
	}
	b.mu.Lock()
	b.authors = authors
	b.mu.Unlock()
	return nil
}

func (b *Backing) path(sub, key string) string {
	return filepath.Join(b.root, sub, key)
}

func (b *Backing) storeJSON(sub, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	path := b.path(sub, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		// The directory may not exist yet on a cold start.
		if errors.Is(err, fs.ErrNotExist) {
			if err := b.Refresh(context.Background()); err != nil {
				return err
			}
			return os.WriteFile(path, data, 0o644)
		}
		return err
	}
	return nil
}

func (b *Backing) loadJSON(sub, key string, v any) error {
	data, err := os.ReadFile(b.path(sub, key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", cache.ErrMiss, sub, key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode cached %s/%s: %w", sub, key, err)
	}
	return nil
}

func (b *Backing) delete(sub, key string) error {
	err := os.Remove(b.path(sub, key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", cache.ErrMiss, sub, key)
	}
	return err
}

func (b *Backing) StoreDocument(ctx context.Context, key string, doc *record.CompressedDocument) error {
	return b.storeJSON(documentsDir, key, doc)
}

func (b *Backing) LoadDocument(ctx context.Context, key string) (*record.CompressedDocument, error) {
	var doc record.CompressedDocument
	if err := b.loadJSON(documentsDir, key, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (b *Backing) LoadDocuments(ctx context.Context, keys []string) ([]*record.CompressedDocument, error) {
	var out []*record.CompressedDocument
	var missErr error
	for _, key := range keys {
		doc, err := b.LoadDocument(ctx, key)
		if errors.Is(err, cache.ErrMiss) {
			missErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, missErr
}

func (b *Backing) DeleteDocument(ctx context.Context, key string) error {
	return b.delete(documentsDir, key)
}

func (b *Backing) StoreAuthor(ctx context.Context, key string, rec *record.CompressedAuthor) error {
	if err := b.storeJSON(authorsDir, key, rec); err != nil {
		return err
	}
	b.mu.Lock()
	b.authors[key] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *Backing) LoadAuthor(ctx context.Context, key string) (*record.CompressedAuthor, error) {
	var rec record.CompressedAuthor
	if err := b.loadJSON(authorsDir, key, &rec); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			// The listing may be out of date with another process.
			b.mu.RLock()
			_, listed := b.authors[key]
			b.mu.RUnlock()
			if listed {
				if rerr := b.Refresh(ctx); rerr != nil {
					return nil, rerr
				}
			}
		}
		return nil, err
	}
	return &rec, nil
}

func (b *Backing) LoadAuthors(ctx context.Context, keys []string) ([]*record.CompressedAuthor, error) {
	var out []*record.CompressedAuthor
	var missErr error
	for _, key := range keys {
		rec, err := b.LoadAuthor(ctx, key)
		if errors.Is(err, cache.ErrMiss) {
			missErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, missErr
}

func (b *Backing) DeleteAuthor(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.authors, key)
	b.mu.Unlock()
	return b.delete(authorsDir, key)
}

func (b *Backing) AuthorsAreInCache(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i, key := range keys {
		_, out[i] = b.authors[key]
	}
	return out, nil
}

func (b *Backing) StoreProgress(ctx context.Context, key string, p *record.Progress) error {
	return b.storeJSON(progressDir, key, p)
}

func (b *Backing) LoadProgress(ctx context.Context, key string) (*record.Progress, error) {
	var p record.Progress
	if err := b.loadJSON(progressDir, key, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *Backing) DeleteProgress(ctx context.Context, key string) error {
	return b.delete(progressDir, key)
}

func (b *Backing) StoreResult(ctx context.Context, key string, data []byte) error {
	path := b.path(resultsDir, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := b.Refresh(ctx); err != nil {
				return err
			}
			return os.WriteFile(path, data, 0o644)
		}
		return err
	}
	return nil
}

func (b *Backing) LoadResult(ctx context.Context, key string) ([]byte, time.Time, error) {
	path := b.path(resultsDir, key)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, fmt.Errorf("%w: %s/%s", cache.ErrMiss, resultsDir, key)
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}

func (b *Backing) ResultIsInCache(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.path(resultsDir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backing) DeleteResult(ctx context.Context, key string) error {
	return b.delete(resultsDir, key)
}

// ClearStaleData walks the selected subdirectories and removes entries
// past their age limits. Author and document staleness is judged by the
// record timestamp so it agrees with load-time eviction; progress and
// result staleness by file modification time.
func (b *Backing) ClearStaleData(ctx context.Context, opts cache.ClearOptions) error {
	now := time.Now()
	if opts.Authors {
		err := b.sweepJSON(authorsDir, func(data []byte) bool {
			var rec record.CompressedAuthor
			if json.Unmarshal(data, &rec) != nil {
				return true
			}
			return now.Sub(time.Unix(rec.Timestamp, 0)) > cache.MaxAgeAuto ||
				rec.Version != cache.AuthorVersion
		})
		if err != nil {
			return err
		}
	}
	if opts.Documents {
		err := b.sweepJSON(documentsDir, func(data []byte) bool {
			var doc record.CompressedDocument
			if json.Unmarshal(data, &doc) != nil {
				return true
			}
			return now.Sub(time.Unix(doc.Timestamp, 0)) > cache.MaxAgeAuto ||
				doc.Version != cache.DocumentVersion
		})
		if err != nil {
			return err
		}
	}
	if opts.Progress {
		if err := b.sweepByModTime(progressDir, now, cache.MaxProgressAge); err != nil {
			return err
		}
	}
	if opts.Results {
		if err := b.sweepByModTime(resultsDir, now, cache.MaxResultAge); err != nil {
			return err
		}
	}
	return b.Refresh(ctx)
}

func (b *Backing) sweepJSON(sub string, stale func([]byte) bool) error {
	entries, err := os.ReadDir(filepath.Join(b.root, sub))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(b.root, sub, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if stale(data) {
			os.Remove(path)
		}
	}
	return nil
}

func (b *Backing) sweepByModTime(sub string, now time.Time, maxAge time.Duration) error {
	entries, err := os.ReadDir(filepath.Join(b.root, sub))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			os.Remove(filepath.Join(b.root, sub, e.Name()))
		}
	}
	return nil
}

// Batch is a passthrough: filesystem writes are individually durable.
func (b *Backing) Batch(ctx context.Context, fn func() error) error {
	return fn()
}
