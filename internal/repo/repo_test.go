package repo

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svank/appa-backend/internal/ads"
	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/cache/cachetest"
	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/stats"
)

func setupRepo(t *testing.T) (*Repository, *cachetest.Backing, *names.NameSpace) {
	t.Helper()
	ns := names.NewNameSpace()
	backing := cachetest.New(ns)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(backing, ns, log)
	st := stats.New(c, log)
	// No test should reach ADS; the fixture backing serves everything.
	adsClient := ads.NewClient("", ns, st, log)
	adsClient.BaseURL = "http://127.0.0.1:0"
	return New(c, adsClient, ns, st, log), backing, ns
}

func TestGetAuthor(t *testing.T) {
	r, backing, ns := setupRepo(t)
	ctx := context.Background()

	name, err := ns.Parse("author, a.")
	require.NoError(t, err)
	rec, err := r.GetAuthorRecord(ctx, name)
	require.NoError(t, err)

	compressed, err := rec.Compress()
	require.NoError(t, err)
	compressed.Version = cache.AuthorVersion

	expected, err := backing.LoadAuthor(ctx, "author, a.")
	require.NoError(t, err)
	assert.Equal(t, expected, compressed)
}

func TestGetDocument(t *testing.T) {
	r, backing, _ := setupRepo(t)
	ctx := context.Background()

	doc, err := r.GetDocument(ctx, cachetest.Bib("paperAB"))
	require.NoError(t, err)

	compressed := doc.Compress()
	compressed.Version = cache.DocumentVersion

	expected, err := backing.LoadDocument(ctx, cachetest.Bib("paperAB"))
	require.NoError(t, err)
	assert.Equal(t, expected, compressed)
}

func TestAuthorRecordGeneration(t *testing.T) {
	r, backing, ns := setupRepo(t)
	ctx := context.Background()

	cases := []struct {
		query string
		docs  []string
	}{
		{">author, a.", []string{
			cachetest.Bib("paperAB2"),
			cachetest.Bib("paperAE"),
			cachetest.Bib("paperAK"),
		}},
		{"=author, a.", []string{cachetest.Bib("paperAB")}},
		{"<author, aa", []string{cachetest.Bib("paperAB")}},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			name, err := ns.Parse(tc.query)
			require.NoError(t, err)
			rec, err := r.GetAuthorRecord(ctx, name)
			require.NoError(t, err)
			require.Equal(t, tc.docs, rec.Documents)

			cached, ok := backing.StoredAuthors[tc.query]
			require.True(t, ok, "derived record was not written back")
			assert.Equal(t, tc.query, cached.Name)
			assert.Equal(t, rec.Documents, cached.Documents)
		})
	}
}

func TestNotifyOfUpcomingDocumentRequest(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()

	// Missing bibcodes must not fail the warm-up.
	r.NotifyOfUpcomingDocumentRequest(ctx,
		cachetest.Bib("paperAB"), cachetest.Bib("paperXX"))

	doc, err := r.GetDocument(ctx, cachetest.Bib("paperAB"))
	require.NoError(t, err)
	assert.Equal(t, "Paper Linking A & B", doc.Title)
}
