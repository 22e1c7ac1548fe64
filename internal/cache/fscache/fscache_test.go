package fscache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/cache/fscache"
	"github.com/svank/appa-backend/internal/record"
)

func setupBacking(t *testing.T) (*fscache.Backing, string) {
	t.Helper()
	dir := t.TempDir()
	b := fscache.New(dir)
	require.NoError(t, b.Refresh(context.Background()))
	return b, dir
}

func compressedDoc(bibcode string) *record.CompressedDocument {
	doc := record.NewDocument(bibcode)
	doc.Title = "A Title"
	compressed := doc.Compress()
	compressed.Version = cache.DocumentVersion
	return compressed
}

func TestDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, dir := setupBacking(t)

	require.NoError(t,
		b.StoreDocument(ctx, "2020Test.........1A", compressedDoc("2020Test.........1A")))
	assert.FileExists(t,
		filepath.Join(dir, "documents", "2020Test.........1A"))

	loaded, err := b.LoadDocument(ctx, "2020Test.........1A")
	require.NoError(t, err)
	assert.Equal(t, "A Title", loaded.Title)

	_, err = b.LoadDocument(ctx, "2020None.........1A")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, b.DeleteDocument(ctx, "2020Test.........1A"))
	_, err = b.LoadDocument(ctx, "2020Test.........1A")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestLoadDocumentsPartial(t *testing.T) {
	ctx := context.Background()
	b, _ := setupBacking(t)

	require.NoError(t,
		b.StoreDocument(ctx, "2020Test.........1A", compressedDoc("2020Test.........1A")))
	require.NoError(t,
		b.StoreDocument(ctx, "2020Test.........2A", compressedDoc("2020Test.........2A")))

	docs, err := b.LoadDocuments(ctx,
		[]string{"2020Test.........1A", "2020None.........1A", "2020Test.........2A"})
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Len(t, docs, 2)
}

func TestAuthorListing(t *testing.T) {
	ctx := context.Background()
	b, dir := setupBacking(t)

	compressed := &record.CompressedAuthor{
		Name:      "author, a.",
		Timestamp: time.Now().Unix(),
		Version:   cache.AuthorVersion,
	}
	require.NoError(t, b.StoreAuthor(ctx, "author, a.", compressed))

	present, err := b.AuthorsAreInCache(ctx,
		[]string{"author, a.", "author, b."})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, present)

	// A fresh Backing over the same directory rebuilds the listing on
	// Refresh.
	b2 := fscache.New(dir)
	require.NoError(t, b2.Refresh(ctx))
	present, err = b2.AuthorsAreInCache(ctx, []string{"author, a."})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, present)

	require.NoError(t, b.DeleteAuthor(ctx, "author, a."))
	present, err = b.AuthorsAreInCache(ctx, []string{"author, a."})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, present)
}

func TestProgressRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, _ := setupBacking(t)

	p := record.NewProgress()
	p.DocsLoaded = 7
	require.NoError(t, b.StoreProgress(ctx, "key", p))

	loaded, err := b.LoadProgress(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.DocsLoaded)

	require.NoError(t, b.DeleteProgress(ctx, "key"))
	_, err = b.LoadProgress(ctx, "key")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, _ := setupBacking(t)

	data := []byte(`{"chains": []}`)
	require.NoError(t, b.StoreResult(ctx, "key", data))

	ok, err := b.ResultIsInCache(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, storedAt, err := b.LoadResult(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
	assert.WithinDuration(t, time.Now(), storedAt, time.Minute)

	require.NoError(t, b.DeleteResult(ctx, "key"))
	ok, err = b.ResultIsInCache(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearStaleData(t *testing.T) {
	ctx := context.Background()
	b, dir := setupBacking(t)

	fresh := compressedDoc("2020Test.........1A")
	require.NoError(t, b.StoreDocument(ctx, "2020Test.........1A", fresh))

	stale := compressedDoc("2020Test.........2A")
	stale.Timestamp = time.Now().Add(-cache.MaxAge).Unix()
	require.NoError(t, b.StoreDocument(ctx, "2020Test.........2A", stale))

	wrongVersion := compressedDoc("2020Test.........3A")
	wrongVersion.Version = cache.DocumentVersion - 1
	require.NoError(t, b.StoreDocument(ctx, "2020Test.........3A", wrongVersion))

	// An old progress file, backdated through its mtime.
	require.NoError(t, b.StoreProgress(ctx, "old", record.NewProgress()))
	oldTime := time.Now().Add(-cache.MaxProgressAge - time.Hour)
	require.NoError(t, os.Chtimes(
		filepath.Join(dir, "progress", "old"), oldTime, oldTime))
	require.NoError(t, b.StoreProgress(ctx, "new", record.NewProgress()))

	require.NoError(t, b.ClearStaleData(ctx, cache.ClearAll()))

	_, err := b.LoadDocument(ctx, "2020Test.........1A")
	assert.NoError(t, err)
	_, err = b.LoadDocument(ctx, "2020Test.........2A")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = b.LoadDocument(ctx, "2020Test.........3A")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = b.LoadProgress(ctx, "old")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = b.LoadProgress(ctx, "new")
	assert.NoError(t, err)
}

func TestColdStartWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := fscache.New(filepath.Join(dir, "cache"))

	// No Refresh yet: the store creates its directories on demand.
	require.NoError(t,
		b.StoreDocument(ctx, "2020Test.........1A", compressedDoc("2020Test.........1A")))
	_, err := b.LoadDocument(ctx, "2020Test.........1A")
	assert.NoError(t, err)
}
