package ads

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/record"
	"github.com/svank/appa-backend/internal/stats"
)

func setupClient(t *testing.T, handler http.Handler) (*Client, *names.NameSpace) {
	t.Helper()
	ns := names.NewNameSpace()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := stats.New(nil, log)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-token", ns, st, log)
	c.BaseURL = srv.URL
	return c, ns
}

type responseDoc map[string]any

func writeResponse(t *testing.T, w http.ResponseWriter, numFound int, docs ...responseDoc) {
	t.Helper()
	if w.Header().Get("X-RateLimit-Remaining") == "" {
		w.Header().Set("X-RateLimit-Remaining", "4000")
	}
	body := map[string]any{
		"response": map[string]any{"numFound": numFound, "docs": docs},
	}
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func mustParse(t *testing.T, ns *names.NameSpace, raw string) *names.Name {
	t.Helper()
	name, err := ns.Parse(raw)
	require.NoError(t, err)
	return name
}

func TestGetDocument(t *testing.T) {
	var query string
	var auth string
	c, _ := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		auth = r.Header.Get("Authorization")
		assert.Contains(t, r.URL.Query().Get("fl"), "orcid_pub")
		writeResponse(t, w, 1, responseDoc{
			"bibcode":        "2020Test.........1A",
			"title":          []string{"First &amp; Best", "Alternate Title"},
			"author":         []string{"Author, A.", "Author, B.", "et al"},
			"aff":            []string{"A Institute", "-", "-"},
			"doctype":        "article",
			"pub":            "The Journal",
			"date":           "2020-01-01",
			"citation_count": 7,
			"read_count":     3,
			"orcid_pub":      []string{"-", "1234567890123456", "-"},
			"orcid_user":     []string{"0000-0002-1825-0097", "not an orcid id", "-"},
			"orcid_other":    []string{"-", "-", "-"},
		})
	}))

	doc, err := c.GetDocument(context.Background(), "2020Test.........1A")
	require.NoError(t, err)

	assert.Equal(t, "bibcode:2020Test.........1A", query)
	assert.Equal(t, "Bearer test-token", auth)

	// The first title is kept and HTML entities are unescaped; "et al" is
	// dropped from every per-author list.
	assert.Equal(t, "First & Best", doc.Title)
	assert.Equal(t, []string{"Author, A.", "Author, B."}, doc.Authors)
	assert.Equal(t, []string{"A Institute", ""}, doc.Affils)
	assert.Equal(t, "The Journal", doc.Publication)
	assert.Equal(t, 7, doc.CitationCount)

	// One id per author: orcid_pub wins, invalid entries are passed over,
	// bare ids come out dashed.
	assert.Equal(t, []string{"0000-0002-1825-0097", "1234-5678-9012-3456"}, doc.OrcidIDs)
	assert.Equal(t, []int{record.OrcidSrcUser, record.OrcidSrcPub}, doc.OrcidIDSrc)
}

func TestGetDocumentMissing(t *testing.T) {
	c, _ := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResponse(t, w, 0)
	}))

	_, err := c.GetDocument(context.Background(), "2020None.........1A")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "2020None.........1A")
}

func TestGetPapersForAuthor(t *testing.T) {
	var query string
	var filters []string
	c, ns := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		filters = r.URL.Query()["fq"]
		assert.Equal(t, "date+asc", r.URL.Query().Get("sort"))
		writeResponse(t, w, 3,
			responseDoc{
				"bibcode": "2020Test.........1A",
				"title":   []string{"One"},
				"author":  []string{"Author, A.", "Author, B."},
			},
			responseDoc{
				"bibcode": "2020Test.........2B",
				"title":   []string{"Two"},
				"author":  []string{"Author, B.", "Author, C."},
			},
			responseDoc{
				"bibcode": "2020Test.........3C",
				"title":   []string{"Three"},
				"author":  []string{"Author, Z."},
			})
	}))

	// Queued authors ride along on the next query.
	c.AddAuthorsToPrefetchQueue(
		mustParse(t, ns, "author, b"), mustParse(t, ns, "author, c"))

	records, documents, err := c.GetPapersForAuthor(
		context.Background(), mustParse(t, ns, "author, a"))
	require.NoError(t, err)

	assert.Equal(t,
		`author:("author, b" OR "author, c" OR "author, a")`, query)
	require.Len(t, filters, 2)
	assert.Contains(t, filters[0], "doctype:article")
	assert.Equal(t, "database:astronomy", filters[1])

	assert.Len(t, documents, 3)
	require.Equal(t, 3, records.Len())
	recA, ok := records.Get(mustParse(t, ns, "author, a"))
	require.True(t, ok)
	assert.Equal(t, []string{"2020Test.........1A"}, recA.Documents)
	recB, ok := records.Get(mustParse(t, ns, "author, b"))
	require.True(t, ok)
	assert.Equal(t,
		[]string{"2020Test.........1A", "2020Test.........2B"}, recB.Documents)
	recC, ok := records.Get(mustParse(t, ns, "author, c"))
	require.True(t, ok)
	assert.Equal(t, []string{"2020Test.........2B"}, recC.Documents)
}

func TestGetPapersForAuthorExactModifier(t *testing.T) {
	var query string
	c, ns := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		writeResponse(t, w, 0)
	}))

	_, _, err := c.GetPapersForAuthor(
		context.Background(), mustParse(t, ns, "=author, a."))
	require.NoError(t, err)
	assert.Equal(t, `author:(="author, a.")`, query)
}

func TestPagination(t *testing.T) {
	var starts []string
	c, ns := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start")
		starts = append(starts, start)
		if start == "0" {
			writeResponse(t, w, 3,
				responseDoc{"bibcode": "2020Test.........1A",
					"author": []string{"Author, A."}},
				responseDoc{"bibcode": "2020Test.........2A",
					"author": []string{"Author, A."}})
			return
		}
		writeResponse(t, w, 3,
			responseDoc{"bibcode": "2020Test.........3A",
				"author": []string{"Author, A."}})
	}))

	records, documents, err := c.GetPapersForAuthor(
		context.Background(), mustParse(t, ns, "author, a"))
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "2"}, starts)
	assert.Len(t, documents, 3)
	rec, ok := records.Get(mustParse(t, ns, "author, a"))
	require.True(t, ok)
	assert.Len(t, rec.Documents, 3)
}

func TestRateLimitError(t *testing.T) {
	c, _ := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(1735689600, 10))
		writeResponse(t, w, 0)
	}))

	_, err := c.GetDocument(context.Background(), "2020Test.........1A")
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "5000", rateErr.Limit)
	assert.Equal(t, "2025-01-01 00:00:00 UTC", rateErr.ResetTime)
}

func TestAPIError(t *testing.T) {
	c, _ := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4000")
		_, _ = w.Write([]byte(`{"error": {"msg": "org.apache.solr.search.SyntaxError"}}`))
	}))

	_, err := c.GetDocument(context.Background(), "2020Test.........1A")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "SyntaxError")
	assert.True(t, errors.As(err, &apiErr))
}

func TestGetPapersForOrcidID(t *testing.T) {
	var query string
	c, _ := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		writeResponse(t, w, 3,
			responseDoc{
				"bibcode":   "2020Test.........1Q",
				"author":    []string{"Author, A.", "Author, Qq Q."},
				"orcid_pub": []string{"-", "0000-0002-1825-0097"},
			},
			responseDoc{
				"bibcode":    "2020Test.........2Q",
				"author":     []string{"Author, Q."},
				"orcid_user": []string{"0000-0002-1825-0097"},
			},
			responseDoc{
				"bibcode": "2020Test.........3X",
				"author":  []string{"Author, X."},
			})
	}))

	// A bare id is normalized before querying.
	rec, documents, err := c.GetPapersForOrcidID(
		context.Background(), "0000000218250097")
	require.NoError(t, err)

	assert.Equal(t, "orcid:(0000-0002-1825-0097)", query)
	assert.Len(t, documents, 3)
	// Only documents actually carrying the id count, and the record takes
	// the most detailed form of the id holder's name.
	assert.Equal(t,
		[]string{"2020Test.........1Q", "2020Test.........2Q"}, rec.Documents)
	assert.Equal(t, "author, qq q.", rec.Name.FullName())
}

func TestIsBibcode(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"2020ApJ...896L..18V", true},
		{"2020Test.........1A", true},
		{"202ApJ....896L..18V", false},
		{"2020ApJ...896L..18", false},
		{"two0ApJ...896L..18V", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsBibcode(tc.value), tc.value)
	}
}

func TestIsOrcidID(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"0000-0002-1825-0097", true},
		{"0000000218250097", true},
		{"0000-0002-1825-009X", true},
		{"000000021825009x", true},
		{" 0000-0002-1825-0097 ", true},
		{"0000-00X2-1825-0097", false},
		{"0000.0002.1825.0097", false},
		{"0000-0002-1825-00971", false},
		{"author, a.", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsOrcidID(tc.value), tc.value)
	}
}

func TestNormalizeOrcidID(t *testing.T) {
	assert.Equal(t, "0000-0002-1825-0097", NormalizeOrcidID("0000000218250097"))
	assert.Equal(t, "0000-0002-1825-0097", NormalizeOrcidID("0000-0002-1825-0097"))
	assert.Equal(t, "0000-0002-1825-009X", NormalizeOrcidID(" 000000021825009X "))
}
