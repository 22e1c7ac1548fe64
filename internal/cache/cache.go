// Package cache is the in-process caching tier: an in-memory table of
// decompressed records layered over a pluggable persistent Backing, with
// version- and age-based eviction.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/record"
)

const (
	// MaxAge is the limit past which author and document records are
	// considered stale and will not be loaded.
	MaxAge = 31 * 24 * time.Hour
	// MaxAgeAuto is the limit past which records are proactively dropped,
	// 1.1 days short of MaxAge so an in-flight run never sees a record
	// expire under it.
	MaxAgeAuto = MaxAge - 26*time.Hour - 24*time.Minute
	// MaxProgressAge bounds how long progress counters stay readable.
	MaxProgressAge = 30 * time.Minute
	// MaxResultAge bounds how long rendered result JSON is served.
	MaxResultAge = time.Hour

	AuthorVersion   = 1
	DocumentVersion = 1
)

var (
	// ErrMiss reports an absent or stale cache entry.
	ErrMiss = errors.New("cache miss")
	// ErrInvalidKey reports a key that cannot be used with every backing.
	ErrInvalidKey = errors.New("invalid cache key")
)

// Cache wraps a Backing with in-memory tables of decompressed records.
// Safe for concurrent use.
type Cache struct {
	backing Backing
	ns      *names.NameSpace
	log     *slog.Logger

	mu        sync.RWMutex
	documents map[string]*record.Document
	authors   map[string]*record.AuthorRecord

	now func() time.Time
}

// New returns a Cache over backing, parsing author names in ns.
func New(backing Backing, ns *names.NameSpace, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		backing:   backing,
		ns:        ns,
		log:       log,
		documents: make(map[string]*record.Document),
		authors:   make(map[string]*record.AuthorRecord),
		now:       time.Now,
	}
}

const badKeyChars = `_*/\;:?"|+[{]}()#$%^`

// KeyIsValid reports whether key is storable under every backing: not a
// directory traversal token, not overlong, no shell-hostile characters,
// and not mixing < and >.
func KeyIsValid(key string) bool {
	if key == "." || key == ".." || key == "," || key == "" || len(key) > 255 {
		return false
	}
	if strings.ContainsRune(key, '<') && strings.ContainsRune(key, '>') {
		return false
	}
	for _, c := range key {
		if !unicode.IsPrint(c) || strings.ContainsRune(badKeyChars, c) {
			return false
		}
	}
	return true
}

// ResultKey derives the content-addressed key under which a rendered
// result (and its progress counters) are stored.
func ResultKey(src, dest string, exclusions []string) string {
	sorted := append([]string(nil), exclusions...)
	sort.Strings(sorted)
	s := fmt.Sprintf("src=%s&dest=%s&exclusions=%s",
		src, dest, strings.Join(sorted, ";"))
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) age(timestamp int64) time.Duration {
	return c.now().Sub(time.Unix(timestamp, 0))
}

// Refresh prunes in-memory records old enough that they could expire
// mid-run, then lets the backing re-scan its storage.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	for bibcode, doc := range c.documents {
		if c.age(doc.Timestamp) > MaxAgeAuto {
			delete(c.documents, bibcode)
		}
	}
	for key, rec := range c.authors {
		if c.age(rec.Timestamp) > MaxAgeAuto {
			delete(c.authors, key)
		}
	}
	c.mu.Unlock()
	return c.backing.Refresh(ctx)
}

// CacheDocument stores doc in memory and persists its compressed form.
func (c *Cache) CacheDocument(ctx context.Context, doc *record.Document) error {
	if !KeyIsValid(doc.Bibcode) {
		return fmt.Errorf("%w: bibcode %q", ErrInvalidKey, doc.Bibcode)
	}
	c.mu.Lock()
	c.documents[doc.Bibcode] = doc
	c.mu.Unlock()

	compressed := doc.Compress()
	compressed.Version = DocumentVersion
	return c.backing.StoreDocument(ctx, doc.Bibcode, compressed)
}

// CacheDocuments stores several documents under one write batch.
func (c *Cache) CacheDocuments(ctx context.Context, docs []*record.Document) error {
	return c.backing.Batch(ctx, func() error {
		for _, doc := range docs {
			if err := c.CacheDocument(ctx, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadDocument returns the cached document or ErrMiss.
func (c *Cache) LoadDocument(ctx context.Context, bibcode string) (*record.Document, error) {
	c.mu.RLock()
	doc, ok := c.documents[bibcode]
	c.mu.RUnlock()
	if ok {
		return c.checkDocument(ctx, doc, DocumentVersion)
	}

	compressed, err := c.backing.LoadDocument(ctx, bibcode)
	if err != nil {
		return nil, err
	}
	return c.admitDocument(ctx, compressed)
}

// LoadDocuments bulk-loads documents. With missingOK, absent keys are
// skipped; otherwise any miss fails the whole load. Order is not
// guaranteed to match the input.
func (c *Cache) LoadDocuments(ctx context.Context, bibcodes []string, missingOK bool) ([]*record.Document, error) {
	var out []*record.Document
	var needed []string
	c.mu.RLock()
	for _, bibcode := range bibcodes {
		if doc, ok := c.documents[bibcode]; ok {
			out = append(out, doc)
		} else {
			needed = append(needed, bibcode)
		}
	}
	c.mu.RUnlock()

	checked := out[:0]
	for _, doc := range out {
		fresh, err := c.checkDocument(ctx, doc, DocumentVersion)
		if err == nil {
			checked = append(checked, fresh)
		} else if !errors.Is(err, ErrMiss) || !missingOK {
			return nil, err
		}
	}
	out = checked

	if len(needed) > 0 {
		// The backing returns whatever it found alongside an ErrMiss
		// error if any key was absent.
		loaded, err := c.backing.LoadDocuments(ctx, needed)
		if err != nil && (!errors.Is(err, ErrMiss) || !missingOK) {
			return nil, err
		}
		for _, compressed := range loaded {
			doc, err := c.admitDocument(ctx, compressed)
			if err != nil {
				if errors.Is(err, ErrMiss) && missingOK {
					continue
				}
				return nil, err
			}
			out = append(out, doc)
		}
	}
	return out, nil
}

// DeleteDocument removes the document from memory and the backing.
func (c *Cache) DeleteDocument(ctx context.Context, bibcode string) {
	c.mu.Lock()
	delete(c.documents, bibcode)
	c.mu.Unlock()
	if err := c.backing.DeleteDocument(ctx, bibcode); err != nil && !errors.Is(err, ErrMiss) {
		c.log.Error("failed to delete cached document",
			"bibcode", bibcode, "error", err)
	}
}

func (c *Cache) checkDocument(ctx context.Context, doc *record.Document, version int) (*record.Document, error) {
	if c.age(doc.Timestamp) > MaxAge || version != DocumentVersion {
		c.DeleteDocument(ctx, doc.Bibcode)
		return nil, fmt.Errorf("%w: stale document %s", ErrMiss, doc.Bibcode)
	}
	return doc, nil
}

func (c *Cache) admitDocument(ctx context.Context, compressed *record.CompressedDocument) (*record.Document, error) {
	doc, err := compressed.Decompress()
	if err != nil {
		return nil, err
	}
	if _, err := c.checkDocument(ctx, doc, compressed.Version); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.documents[doc.Bibcode] = doc
	c.mu.Unlock()
	return doc, nil
}

// CacheAuthor stores rec in memory and persists its compressed form under
// the name's qualified form.
func (c *Cache) CacheAuthor(ctx context.Context, rec *record.AuthorRecord) error {
	return c.CacheAuthorUnderKey(ctx, rec.Name.String(), rec)
}

// CacheAuthorUnderKey stores rec under an explicit key, e.g. an ORCID id.
func (c *Cache) CacheAuthorUnderKey(ctx context.Context, key string, rec *record.AuthorRecord) error {
	if !KeyIsValid(key) {
		return fmt.Errorf("%w: author %q", ErrInvalidKey, key)
	}
	c.mu.Lock()
	c.authors[key] = rec
	c.mu.Unlock()

	compressed, err := rec.Compress()
	if err != nil {
		return err
	}
	compressed.Version = AuthorVersion
	return c.backing.StoreAuthor(ctx, key, compressed)
}

// CacheAuthors stores several author records under one write batch.
func (c *Cache) CacheAuthors(ctx context.Context, recs []*record.AuthorRecord) error {
	return c.backing.Batch(ctx, func() error {
		for _, rec := range recs {
			if err := c.CacheAuthor(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAuthor returns the cached record for name or ErrMiss.
func (c *Cache) LoadAuthor(ctx context.Context, name *names.Name) (*record.AuthorRecord, error) {
	return c.LoadAuthorByKey(ctx, name.String())
}

// LoadAuthorByKey returns the record cached under an explicit key, e.g. an
// ORCID id, or ErrMiss.
func (c *Cache) LoadAuthorByKey(ctx context.Context, key string) (*record.AuthorRecord, error) {
	c.mu.RLock()
	rec, ok := c.authors[key]
	c.mu.RUnlock()
	if ok {
		return c.checkAuthor(ctx, rec, AuthorVersion)
	}

	compressed, err := c.backing.LoadAuthor(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.admitAuthor(ctx, key, compressed)
}

// DeleteAuthor removes the record from memory and the backing.
func (c *Cache) DeleteAuthor(ctx context.Context, name *names.Name) {
	key := name.String()
	c.mu.Lock()
	delete(c.authors, key)
	c.mu.Unlock()
	if err := c.backing.DeleteAuthor(ctx, key); err != nil && !errors.Is(err, ErrMiss) {
		c.log.Error("failed to delete cached author", "author", key, "error", err)
	}
}

func (c *Cache) checkAuthor(ctx context.Context, rec *record.AuthorRecord, version int) (*record.AuthorRecord, error) {
	if c.age(rec.Timestamp) > MaxAge || version != AuthorVersion {
		c.DeleteAuthor(ctx, rec.Name)
		return nil, fmt.Errorf("%w: stale author %s", ErrMiss, rec.Name)
	}
	return rec, nil
}

func (c *Cache) admitAuthor(ctx context.Context, key string, compressed *record.CompressedAuthor) (*record.AuthorRecord, error) {
	rec, err := compressed.Decompress(c.ns)
	if err != nil {
		return nil, err
	}
	if _, err := c.checkAuthor(ctx, rec, compressed.Version); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.authors[key] = rec
	c.mu.Unlock()
	return rec, nil
}

// AuthorIsInCache reports whether a record for name is present, without
// loading or staleness-checking it.
func (c *Cache) AuthorIsInCache(ctx context.Context, name *names.Name) (bool, error) {
	res, err := c.AuthorsAreInCache(ctx, []*names.Name{name})
	if err != nil {
		return false, err
	}
	return res[0], nil
}

// AuthorsAreInCache reports presence for each name, in order.
func (c *Cache) AuthorsAreInCache(ctx context.Context, authorNames []*names.Name) ([]bool, error) {
	results := make([]bool, len(authorNames))
	var toQuery []string
	var toQueryIdx []int
	c.mu.RLock()
	for i, name := range authorNames {
		if _, ok := c.authors[name.String()]; ok {
			results[i] = true
		} else {
			toQuery = append(toQuery, name.String())
			toQueryIdx = append(toQueryIdx, i)
		}
	}
	c.mu.RUnlock()

	if len(toQuery) > 0 {
		present, err := c.backing.AuthorsAreInCache(ctx, toQuery)
		if err != nil {
			return nil, err
		}
		for j, ok := range present {
			results[toQueryIdx[j]] = ok
		}
	}
	return results, nil
}

// StoreProgress persists progress counters under key.
func (c *Cache) StoreProgress(ctx context.Context, key string, p *record.Progress) error {
	return c.backing.StoreProgress(ctx, key, p)
}

// LoadProgress returns the stored counters, or ErrMiss if absent or older
// than MaxProgressAge.
func (c *Cache) LoadProgress(ctx context.Context, key string) (*record.Progress, error) {
	p, err := c.backing.LoadProgress(ctx, key)
	if err != nil {
		return nil, err
	}
	if c.age(p.Timestamp) > MaxProgressAge {
		c.DeleteProgress(ctx, key)
		return nil, fmt.Errorf("%w: stale progress %s", ErrMiss, key)
	}
	return p, nil
}

// DeleteProgress removes the stored counters.
func (c *Cache) DeleteProgress(ctx context.Context, key string) {
	if err := c.backing.DeleteProgress(ctx, key); err != nil && !errors.Is(err, ErrMiss) {
		c.log.Error("failed to delete progress data", "key", key, "error", err)
	}
}

// StoreResult persists rendered result JSON under key.
func (c *Cache) StoreResult(ctx context.Context, key string, data []byte) error {
	return c.backing.StoreResult(ctx, key, data)
}

// LoadResult returns the stored result, or ErrMiss if absent or older than
// MaxResultAge.
func (c *Cache) LoadResult(ctx context.Context, key string) ([]byte, error) {
	data, storedAt, err := c.backing.LoadResult(ctx, key)
	if err != nil {
		return nil, err
	}
	if c.now().Sub(storedAt) > MaxResultAge {
		if err := c.backing.DeleteResult(ctx, key); err != nil && !errors.Is(err, ErrMiss) {
			c.log.Error("failed to delete stale result", "key", key, "error", err)
		}
		return nil, fmt.Errorf("%w: stale result %s", ErrMiss, key)
	}
	return data, nil
}

// ResultIsInCache reports whether a result is stored under key. Staleness
// is checked at load time.
func (c *Cache) ResultIsInCache(ctx context.Context, key string) (bool, error) {
	return c.backing.ResultIsInCache(ctx, key)
}

// ClearStaleData sweeps expired entries out of the backing and refreshes
// the in-memory tables.
func (c *Cache) ClearStaleData(ctx context.Context, opts ClearOptions) error {
	if err := c.backing.ClearStaleData(ctx, opts); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// Batch exposes the backing's write buffering for callers that persist
// many records at once.
func (c *Cache) Batch(ctx context.Context, fn func() error) error {
	return c.backing.Batch(ctx, fn)
}
