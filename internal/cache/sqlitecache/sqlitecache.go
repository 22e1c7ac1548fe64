// Package sqlitecache implements cache.Backing on a single SQLite file.
//
// Design: WAL mode with a busy timeout balances concurrency and durability.
// WAL allows concurrent readers during writes, which matters when several
// path-finding requests share one cache. Author blobs are deflate-compressed
// since they dominate cache volume; queryable side columns stay uncompressed.
package sqlitecache

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	// Register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/record"
)

//go:embed schema.sql
var schema string

// batchFlushEvery bounds how many buffered writes a batch holds before an
// intermediate commit.
const batchFlushEvery = 400

// Backing stores cache records in a SQLite database. Safe for concurrent
// use; Batch scopes are serialized against each other.
type Backing struct {
	db *sql.DB

	mu      sync.Mutex
	tx      *sql.Tx
	pending int

	batchMu sync.Mutex
}

var _ cache.Backing = (*Backing)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. The caller should Close the returned Backing.
func Open(path string) (*Backing, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database %s: %w", path, err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA synchronous=NORMAL`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &Backing{db: db}, nil
}

// Close flushes any open batch and releases the database.
func (b *Backing) Close() error {
	b.mu.Lock()
	if b.tx != nil {
		b.tx.Commit()
		b.tx = nil
	}
	b.mu.Unlock()
	return b.db.Close()
}

// Refresh is a no-op; the schema is applied at Open.
func (b *Backing) Refresh(ctx context.Context) error { return nil }

// execer routes writes through the open batch transaction when one exists.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *Backing) writer() execer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx != nil {
		return b.tx
	}
	return b.db
}

func (b *Backing) exec(ctx context.Context, query string, args ...any) error {
	_, err := b.writer().ExecContext(ctx, query, args...)
	if err == nil {
		b.noteWrite(ctx)
	}
	return err
}

func (b *Backing) noteWrite(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		return
	}
	b.pending++
	if b.pending >= batchFlushEvery {
		b.tx.Commit()
		b.tx, _ = b.db.BeginTx(ctx, nil)
		b.pending = 0
	}
}

// Batch buffers writes issued by fn in one transaction, committing every
// batchFlushEvery writes and at scope exit. An error from fn rolls back
// the uncommitted tail.
func (b *Backing) Batch(ctx context.Context, fn func() error) error {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache batch: %w", err)
	}
	b.mu.Lock()
	b.tx = tx
	b.pending = 0
	b.mu.Unlock()

	ferr := fn()

	b.mu.Lock()
	tx = b.tx
	b.tx = nil
	b.pending = 0
	b.mu.Unlock()

	if tx != nil {
		if ferr != nil {
			tx.Rollback()
		} else if err := tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("commit cache batch: %w", err)
		}
	}
	return ferr
}

func miss(kind, key string) error {
	return fmt.Errorf("%w: %s/%s", cache.ErrMiss, kind, key)
}

func (b *Backing) StoreDocument(ctx context.Context, key string, doc *record.CompressedDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.exec(ctx,
		`INSERT OR REPLACE INTO documents (key, data, version, timestamp)
		 VALUES (?, ?, ?, ?)`,
		key, string(data), doc.Version, doc.Timestamp)
}

func (b *Backing) LoadDocument(ctx context.Context, key string) (*record.CompressedDocument, error) {
	var data string
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, miss("documents", key)
	}
	if err != nil {
		return nil, err
	}
	var doc record.CompressedDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode cached document %s: %w", key, err)
	}
	return &doc, nil
}

func (b *Backing) LoadDocuments(ctx context.Context, keys []string) ([]*record.CompressedDocument, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT data FROM documents WHERE key IN (`+placeholders(len(keys))+`)`,
		asAny(keys)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*record.CompressedDocument
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc record.CompressedDocument
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("decode cached document: %w", err)
		}
		out = append(out, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) < len(keys) {
		return out, miss("documents", "(batch)")
	}
	return out, nil
}

func (b *Backing) DeleteDocument(ctx context.Context, key string) error {
	return b.exec(ctx, `DELETE FROM documents WHERE key = ?`, key)
}

func (b *Backing) StoreAuthor(ctx context.Context, key string, rec *record.CompressedAuthor) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	blob := buf.Bytes()
	return b.exec(ctx,
		`INSERT OR REPLACE INTO authors
		 (key, zlib_data, zlib_data_size, n_coauthors, n_aliases,
		  n_documents, name, version, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, blob, len(blob), len(rec.Coauthors), len(rec.AppearsAs),
		len(rec.Documents), rec.Name, rec.Version, rec.Timestamp)
}

func decodeAuthorBlob(blob []byte) (*record.CompressedAuthor, error) {
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("inflate cached author: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate cached author: %w", err)
	}
	var rec record.CompressedAuthor
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cached author: %w", err)
	}
	return &rec, nil
}

func (b *Backing) LoadAuthor(ctx context.Context, key string) (*record.CompressedAuthor, error) {
	var blob []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT zlib_data FROM authors WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, miss("authors", key)
	}
	if err != nil {
		return nil, err
	}
	return decodeAuthorBlob(blob)
}

func (b *Backing) LoadAuthors(ctx context.Context, keys []string) ([]*record.CompressedAuthor, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT zlib_data FROM authors WHERE key IN (`+placeholders(len(keys))+`)`,
		asAny(keys)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*record.CompressedAuthor
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		rec, err := decodeAuthorBlob(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) < len(keys) {
		return out, miss("authors", "(batch)")
	}
	return out, nil
}

func (b *Backing) DeleteAuthor(ctx context.Context, key string) error {
	return b.exec(ctx, `DELETE FROM authors WHERE key = ?`, key)
}

func (b *Backing) AuthorsAreInCache(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT key FROM authors WHERE key IN (`+placeholders(len(keys))+`)`,
		asAny(keys)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool, len(keys))
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		present[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, key := range keys {
		out[i] = present[key]
	}
	return out, nil
}

func (b *Backing) StoreProgress(ctx context.Context, key string, p *record.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.exec(ctx,
		`INSERT OR REPLACE INTO progress (key, data, timestamp) VALUES (?, ?, ?)`,
		key, string(data), p.Timestamp)
}

func (b *Backing) LoadProgress(ctx context.Context, key string) (*record.Progress, error) {
	var data string
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM progress WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, miss("progress", key)
	}
	if err != nil {
		return nil, err
	}
	var p record.Progress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode cached progress %s: %w", key, err)
	}
	return &p, nil
}

func (b *Backing) DeleteProgress(ctx context.Context, key string) error {
	return b.exec(ctx, `DELETE FROM progress WHERE key = ?`, key)
}

func (b *Backing) StoreResult(ctx context.Context, key string, data []byte) error {
	return b.exec(ctx,
		`INSERT OR REPLACE INTO results (key, data, timestamp) VALUES (?, ?, ?)`,
		key, data, time.Now().Unix())
}

func (b *Backing) LoadResult(ctx context.Context, key string) ([]byte, time.Time, error) {
	var data []byte
	var ts int64
	err := b.db.QueryRowContext(ctx,
		`SELECT data, timestamp FROM results WHERE key = ?`, key).Scan(&data, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, miss("results", key)
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, time.Unix(ts, 0), nil
}

func (b *Backing) ResultIsInCache(ctx context.Context, key string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM results WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backing) DeleteResult(ctx context.Context, key string) error {
	return b.exec(ctx, `DELETE FROM results WHERE key = ?`, key)
}

// ClearStaleData deletes expired rows from the selected collections.
func (b *Backing) ClearStaleData(ctx context.Context, opts cache.ClearOptions) error {
	now := time.Now().Unix()
	if opts.Authors {
		cutoff := now - int64(cache.MaxAgeAuto.Seconds())
		if err := b.exec(ctx,
			`DELETE FROM authors WHERE timestamp < ? OR version != ?`,
			cutoff, cache.AuthorVersion); err != nil {
			return err
		}
	}
	if opts.Documents {
		cutoff := now - int64(cache.MaxAgeAuto.Seconds())
		if err := b.exec(ctx,
			`DELETE FROM documents WHERE timestamp < ? OR version != ?`,
			cutoff, cache.DocumentVersion); err != nil {
			return err
		}
	}
	if opts.Progress {
		cutoff := now - int64(cache.MaxProgressAge.Seconds())
		if err := b.exec(ctx,
			`DELETE FROM progress WHERE timestamp < ?`, cutoff); err != nil {
			return err
		}
	}
	if opts.Results {
		cutoff := now - int64(cache.MaxResultAge.Seconds())
		if err := b.exec(ctx,
			`DELETE FROM results WHERE timestamp < ?`, cutoff); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func asAny(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
