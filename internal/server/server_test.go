package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/cache/cachetest"
	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/ranker"
	"github.com/svank/appa-backend/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupServer(t *testing.T) (*server.Server, *cachetest.Backing) {
	t.Helper()
	ns := names.NewNameSpace()
	backing := cachetest.New(ns)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(backing, ns, log)
	srv := server.New(server.Config{
		Cache: c,
		Names: ns,
		Log:   log,
		// The fixture backing serves everything; no request may leave the
		// process.
		ADSBaseURL: "http://127.0.0.1:0",
	})
	return srv, backing
}

func get(t *testing.T, srv *server.Server, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+params.Encode(), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	return w
}

func TestFindRoute(t *testing.T) {
	srv, backing := setupServer(t)

	params := url.Values{"src": {"Author, A"}, "dest": {"Author, G"}}
	w := get(t, srv, "/find_route", params)

	var result server.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	assert.Equal(t, "Author, A", result.OriginalSrc)
	assert.Equal(t, "Author, G", result.OriginalDest)
	require.Len(t, result.Chains, 2)
	assert.Equal(t,
		[]string{"Author, Aaa", "Author, B.", "Author, G."}, result.Chains[0])
	assert.Equal(t,
		[]string{"Author, Aaa", "Author, Eee E.", "Author, G."}, result.Chains[1])
	require.Len(t, result.PaperChoicesForChain, 2)
	assert.Equal(t, ranker.Connection{
		Bibcode: cachetest.Bib("paperAB2"), Idx1: 1, Idx2: 0,
	}, result.PaperChoicesForChain[0][0][0])
	assert.Len(t, result.DocData, 6)
	assert.Contains(t, result.DocData, cachetest.Bib("paperBG"))
	assert.Equal(t, "Paper Linking B & G",
		result.DocData[cachetest.Bib("paperBG")].Title)

	// The rendered payload lands in the result cache under the search key.
	key := cache.ResultKey("Author, A", "Author, G", nil)
	assert.Contains(t, backing.StoredResults, key)

	// A repeat request is served from the cache byte for byte.
	w2 := get(t, srv, "/find_route", params)
	assert.Equal(t, w.Body.Bytes(), w2.Body.Bytes())
}

func TestFindRouteExclusions(t *testing.T) {
	srv, _ := setupServer(t)

	// Duplicated exclusion lines collapse to one.
	exclusions := cachetest.Bib("paperAB2") + "\n" + cachetest.Bib("paperAB2")
	w := get(t, srv, "/find_route", url.Values{
		"src":        {"Author, A"},
		"dest":       {"Author, G"},
		"exclusions": {exclusions},
	})

	var result server.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Chains, 2)
	assert.Equal(t,
		[]string{"Author, Aaa", "Author, Eee E.", "Author, G."}, result.Chains[0])
	assert.NotContains(t, result.DocData, cachetest.Bib("paperAB2"))
}

func TestFindRouteErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		dest string
		key  string
	}{
		{"invalid character", "/&", "Author, G", "invalid_char_in_name"},
		{"same author", "Author, B.", "Author, Bbb", "src_is_dest"},
		{"unconnected", "author, unconnected b.", "author, a.", "no_authors_to_expand"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := setupServer(t)
			w := get(t, srv, "/find_route", url.Values{
				"src": {tc.src}, "dest": {tc.dest},
			})

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.key, body["error_key"])
			assert.Equal(t, tc.src, body["src"])
			assert.Equal(t, tc.dest, body["dest"])
			assert.NotEmpty(t, body["error_msg"])
		})
	}
}

func TestGetProgress(t *testing.T) {
	srv, _ := setupServer(t)

	get(t, srv, "/find_route",
		url.Values{"src": {"Author, D."}, "dest": {"Author, I."}})

	key := cache.ResultKey("Author, D.", "Author, I.", nil)
	w := get(t, srv, "/get_progress", url.Values{"key": {key}})

	var progress map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, true, progress["path_finding_complete"])
	assert.NotContains(t, progress, "error")

	w = get(t, srv, "/get_progress", url.Values{"key": {"no such key"}})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, true, progress["error"])
}

func TestGetGraphData(t *testing.T) {
	srv, _ := setupServer(t)
	params := url.Values{"src": {"Author, D."}, "dest": {"Author, I."}}

	// Nothing cached yet.
	w := get(t, srv, "/get_graph_data", params)
	var errBody map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, true, errBody["error"])

	get(t, srv, "/find_route", params)

	w = get(t, srv, "/get_graph_data", params)
	var chains [][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chains))
	assert.Equal(t, [][]string{
		{"Author, D.", "Author, J. J.", "Author, I."},
	}, chains)
}
