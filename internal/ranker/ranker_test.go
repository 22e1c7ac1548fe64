package ranker

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svank/appa-backend/internal/ads"
	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/cache/cachetest"
	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/pathfinder"
	"github.com/svank/appa-backend/internal/repo"
	"github.com/svank/appa-backend/internal/stats"
)

func setupRanker(t *testing.T) (*Ranker, pathfinder.Config, *names.NameSpace) {
	t.Helper()
	ns := names.NewNameSpace()
	backing := cachetest.New(ns)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(backing, ns, log)
	st := stats.New(c, log)
	// No test should reach ADS; the fixture backing serves everything.
	adsClient := ads.NewClient("", ns, st, log)
	adsClient.BaseURL = "http://127.0.0.1:0"
	r := repo.New(c, adsClient, ns, st, log)
	cfg := pathfinder.Config{Repository: r, Names: ns, Stats: st, Log: log}
	return New(r, ns, st, log), cfg, ns
}

func runSearch(t *testing.T, cfg pathfinder.Config, src, dest string, exclusions []string) *pathfinder.PathFinder {
	t.Helper()
	pf, err := pathfinder.New(cfg, src, dest, exclusions)
	require.NoError(t, err)
	require.NoError(t, pf.FindPath(context.Background()))
	return pf
}

func con(code string, idx1, idx2 int) Connection {
	return Connection{Bibcode: cachetest.Bib(code), Idx1: idx1, Idx2: idx2}
}

func TestScoreLink(t *testing.T) {
	// The scored author is located by con1.Idx2 and con2.Idx1; the other
	// index of each connection is unused and left at -1.
	cases := []struct {
		name  string
		con1  Connection
		con2  Connection
		score float64
		valid bool
	}{
		// Matching ORCID ids, scored by the source of each id.
		{"orcid pub and pub",
			con("paperBG", -1, 0), con("paperBC", 1, -1), 1, true},
		{"orcid pub and other",
			con("paperBG", -1, 0), con("paperAB2", 0, -1), 0.84, true},
		{"orcid other and user",
			con("paperFI", -1, 1), con("paperIJ", 1, -1), 0.7728, true},
		// Mismatched ORCID ids invalidate the realization.
		{"orcid mismatch",
			con("paperAB2", -1, 0), con("paperBCG", 0, -1), 0, false},
		// Identical affiliations, fully spelled-out name.
		{"exact affil match",
			con("paperAB2", -1, 1), con("paperAE", 0, -1), 0.3 + 0.05, true},
		// "Univ. C" and "University of C" match after normalization.
		{"affil match after substitutions",
			con("paperBCG", -1, 1), con("paperBC", 0, -1), 0.3 + 0.015, true},
		// " at " splits a chunk the same way a comma does.
		{"affil match after at-splitting",
			con("paperCG", -1, 1), con("paperEG", 1, -1), 0.3 + 0.015, true},
		// Partial chunk overlap; the zip code drops out entirely.
		{"partial affil match",
			con("paperFH", -1, 0), con("paperFI", 0, -1),
			0.3*(1+2.0/3)/2 + 0.015, true},
		// Only one chunk of three in common.
		{"low affil match",
			con("paperDJ", -1, 1), con("paperIJ", 0, -1),
			0.3*1.0/3 + 0.03, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _, _ := setupRanker(t)
			score, valid, err := r.scoreLink(context.Background(), tc.con1, tc.con2)
			require.NoError(t, err)
			require.Equal(t, tc.valid, valid)
			if tc.valid {
				assert.InDelta(t, tc.score, score, 1e-9)
			}
		})
	}
}

func TestBuildAuthorChains(t *testing.T) {
	r, cfg, ns := setupRanker(t)
	_ = r

	pf := runSearch(t, cfg, "Author, A.", "Author, G.", nil)
	chains := buildAuthorChains(pf.Src())
	sort.Slice(chains, func(i, j int) bool {
		return compareStrings(chains[i], chains[j]) < 0
	})
	require.Len(t, chains, 2)
	// The middle node of the first chain may carry either printed form of
	// B's name, depending on which was reached first.
	for _, chain := range chains {
		require.Len(t, chain, 3)
		assert.Equal(t, "Author, A.", chain[0])
		assert.Equal(t, "Author, G.", chain[2])
	}
	bName, err := ns.Parse(chains[0][1])
	require.NoError(t, err)
	expectedB, err := ns.Parse("author, b")
	require.NoError(t, err)
	assert.True(t, bName.Equal(expectedB))
	assert.Equal(t, "Author, Eee E.", chains[1][1])

	pf = runSearch(t, cfg, "Author, D.", "Author, I.", nil)
	chains = buildAuthorChains(pf.Src())
	require.Equal(t, [][]string{
		{"Author, D.", "Author, J. J.", "Author, I."},
	}, chains)
}

func TestScoreAuthorChain(t *testing.T) {
	r, _, _ := setupRanker(t)
	ctx := context.Background()

	connections := map[string]map[string][]Connection{
		"Author, A.": {
			"Author, Bbb":    {con("paperAB", 0, 1), con("paperAB2", 1, 0)},
			"Author, Eee E.": {con("paperAE", 0, 1)},
		},
		"Author, Bbb": {
			"Author, G.": {con("paperBCG", 0, 2), con("paperBG", 0, 1)},
		},
		"Author, Eee E.": {
			"Author, G.": {con("paperEG", 0, 1)},
		},
	}

	scores, _, err := r.scoreAuthorChain(ctx,
		[]string{"Author, A.", "Author, Bbb", "Author, G."}, connections)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.84, 0.05, 0.05}, scores, 1e-9)

	scores, _, err = r.scoreAuthorChain(ctx,
		[]string{"Author, A.", "Author, Eee E.", "Author, G."}, connections)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.065}, scores, 1e-9)

	connections = map[string]map[string][]Connection{
		"Author, A.": {
			"Author, Bbb": {con("paperAB", 0, 1), con("paperAB2", 1, 0)},
		},
		"Author, Bbb": {
			"Author, C.": {con("paperBCG", 0, 1), con("paperBC", 1, 0)},
		},
		"Author, C.": {
			"Author, F.": {con("paperCF", 0, 1), con("paperCF2", 0, 1)},
		},
	}
	scores, _, err = r.scoreAuthorChain(ctx,
		[]string{"Author, A.", "Author, Bbb", "Author, C.", "Author, F."},
		connections)
	require.NoError(t, err)
	assert.InDeltaSlice(t,
		[]float64{0.855, 0.855, 0.065, 0.065, 0.03, 0.03}, scores, 1e-9)
}

func TestProcessPathFinder(t *testing.T) {
	ctx := context.Background()

	// B's ORCID id match puts that chain on top.
	r, cfg, _ := setupRanker(t)
	pf := runSearch(t, cfg, "Author, A", "Author, G", nil)
	chains, docData, err := r.ProcessPathFinder(ctx, pf)
	require.NoError(t, err)

	require.Len(t, chains, 2)
	assert.Equal(t,
		[]string{"Author, Aaa", "Author, B.", "Author, G."}, chains[0].Authors)
	assert.Equal(t,
		[]string{"Author, Aaa", "Author, Eee E.", "Author, G."}, chains[1].Authors)
	assert.InDelta(t, 0.84, chains[0].Score, 1e-9)
	assert.InDelta(t, 0.1*13/20, chains[1].Score, 1e-9)
	assert.Equal(t, [][]Connection{
		{con("paperAB2", 1, 0), con("paperBG", 0, 1)},
		{con("paperAB", 0, 1), con("paperBG", 0, 1)},
		{con("paperAB", 0, 1), con("paperBCG", 0, 2)},
	}, chains[0].PaperChoices)
	assert.Equal(t, [][]Connection{
		{con("paperAE", 0, 1), con("paperEG", 0, 1)},
	}, chains[1].PaperChoices)
	assert.Len(t, docData, 6)
	for _, code := range []string{"paperAB", "paperAB2", "paperBCG",
		"paperBG", "paperAE", "paperEG"} {
		assert.Contains(t, docData, cachetest.Bib(code))
	}

	// With paperAB2 excluded B loses the ORCID id match, and E's fully
	// spelled-out name wins.
	r, cfg, _ = setupRanker(t)
	pf = runSearch(t, cfg, "Author, A", "Author, G",
		[]string{cachetest.Bib("paperAB2")})
	chains, docData, err = r.ProcessPathFinder(ctx, pf)
	require.NoError(t, err)

	require.Len(t, chains, 2)
	assert.Equal(t,
		[]string{"Author, Aaa", "Author, Eee E.", "Author, G."}, chains[0].Authors)
	assert.Equal(t,
		[]string{"Author, A.", "Author, Bbb", "Author, G."}, chains[1].Authors)
	assert.InDelta(t, 0.1*13/20, chains[0].Score, 1e-9)
	assert.InDelta(t, 0.1*10/20, chains[1].Score, 1e-9)
	assert.Equal(t, [][]Connection{
		{con("paperAE", 0, 1), con("paperEG", 0, 1)},
	}, chains[0].PaperChoices)
	assert.Equal(t, [][]Connection{
		{con("paperAB", 0, 1), con("paperBG", 0, 1)},
		{con("paperAB", 0, 1), con("paperBCG", 0, 2)},
	}, chains[1].PaperChoices)
	assert.Len(t, docData, 5)

	// A single chain comes through unharmed.
	r, cfg, _ = setupRanker(t)
	pf = runSearch(t, cfg, "Author, D.", "Author, I.", nil)
	chains, docData, err = r.ProcessPathFinder(ctx, pf)
	require.NoError(t, err)

	require.Len(t, chains, 1)
	assert.Equal(t,
		[]string{"Author, D.", "Author, J. J.", "Author, I."}, chains[0].Authors)
	assert.InDelta(t, 0.3*1.0/3+0.1*6/20, chains[0].Score, 1e-9)
	assert.Equal(t, [][]Connection{
		{con("paperDJ", 0, 1), con("paperIJ", 0, 1)},
	}, chains[0].PaperChoices)
	assert.Len(t, docData, 2)

	// A chain of two authors has one link and nothing to score.
	r, cfg, _ = setupRanker(t)
	pf = runSearch(t, cfg, "Author, D.", "Author, J. J.", nil)
	chains, docData, err = r.ProcessPathFinder(ctx, pf)
	require.NoError(t, err)

	require.Len(t, chains, 1)
	assert.Equal(t, []string{"Author, D.", "Author, J. J."}, chains[0].Authors)
	assert.Equal(t, 0.0, chains[0].Score)
	assert.Equal(t, [][]Connection{
		{con("paperDJ", 0, 1)},
	}, chains[0].PaperChoices)
	assert.Len(t, docData, 1)
}

func TestExcludedNameFormsAreNotDisplayed(t *testing.T) {
	// paperKL2 carries two authors matching "Author, L.": the excluded
	// "Author, L." and "Author, L. L.". The resulting chain must show the
	// non-excluded form.
	r, cfg, _ := setupRanker(t)
	pf := runSearch(t, cfg, "Author, L", "Author, A",
		[]string{"=Author, L."})
	chains, docData, err := r.ProcessPathFinder(context.Background(), pf)
	require.NoError(t, err)

	require.Len(t, chains, 1)
	assert.Equal(t,
		[]string{"Author, L. L.", "Author, K.", "Author, Aaa"}, chains[0].Authors)
	assert.Equal(t, [][]Connection{
		{con("paperKL2", 1, 2), con("paperAK", 1, 0)},
	}, chains[0].PaperChoices)
	assert.Len(t, docData, 2)
	for _, code := range []string{"paperKL2", "paperAK"} {
		assert.Contains(t, docData, cachetest.Bib(code))
	}
}
