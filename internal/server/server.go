// Package server is the HTTP shell over the path-finding core: a gin engine
// exposing find_route, get_progress and get_graph_data. Every response is
// HTTP 200 with failures carried in the JSON body, so a browser front end
// never has to special-case transport errors.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/svank/appa-backend/internal/ads"
	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/pathfinder"
	"github.com/svank/appa-backend/internal/ranker"
	"github.com/svank/appa-backend/internal/repo"
	"github.com/svank/appa-backend/internal/stats"
)

// Config assembles the shared pieces a Server serves requests with. Cache
// and Names are shared across requests; ADS clients, stats and repositories
// are constructed per request.
type Config struct {
	Cache         *cache.Cache
	Names         *names.NameSpace
	Token         string
	MaxIterations int
	Weights       ranker.Weights
	Log           *slog.Logger

	// ADSBaseURL overrides the production search endpoint when non-empty.
	ADSBaseURL string
}

// Result is the find_route response payload.
type Result struct {
	OriginalSrc          string                     `json:"original_src"`
	OriginalDest         string                     `json:"original_dest"`
	OriginalSrcWithMods  string                     `json:"original_src_with_mods"`
	OriginalDestWithMods string                     `json:"original_dest_with_mods"`
	DocData              map[string]*ranker.DocData `json:"doc_data"`
	Chains               [][]string                 `json:"chains"`
	PaperChoicesForChain [][][]ranker.Connection    `json:"paper_choices_for_chain"`
	Stats                ResultStats                `json:"stats"`
}

// ResultStats summarizes the work one search did, in the field names the
// front end consumes. Times are in seconds.
type ResultStats struct {
	DocsLoaded         int     `json:"n_docs_loaded"`
	AuthorsLoaded      int     `json:"n_authors_loaded"`
	NamesSeen          int     `json:"n_names_seen"`
	NetworkQueries     int     `json:"n_network_queries"`
	TimeWaitingNetwork float64 `json:"time_waiting_network"`
	TotalTime          float64 `json:"total_time"`
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	ErrorKey string `json:"error_key"`
	ErrorMsg string `json:"error_msg"`
	Src      string `json:"src"`
	Dest     string `json:"dest"`
	Reset    string `json:"reset,omitempty"`
}

// Server routes HTTP requests into the path-finding core.
type Server struct {
	cfg    Config
	engine *gin.Engine
}

// New returns a Server with its routes registered.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Server{cfg: cfg}

	engine := gin.New()
	engine.Use(cors)
	engine.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		cfg.Log.Error("uncaught panic in handler", "error", err)
		c.JSON(http.StatusOK, errorBody{
			ErrorKey: "unknown",
			ErrorMsg: "Unexpected server error",
			Src:      c.Query("src"),
			Dest:     c.Query("dest"),
		})
	}))
	engine.GET("/find_route", s.findRoute)
	engine.POST("/find_route", s.findRoute)
	engine.GET("/get_progress", s.getProgress)
	engine.GET("/get_graph_data", s.getGraphData)
	s.engine = engine
	return s
}

// Handler returns the underlying HTTP handler, for tests and custom
// listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.cfg.Log.Info("listening", "address", addr)
	return s.engine.Run(addr)
}

func cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Next()
}

// parseExclusions splits the newline-separated exclusions parameter,
// dropping duplicates. Order is irrelevant downstream.
func parseExclusions(raw string) []string {
	if raw == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

func (s *Server) findRoute(c *gin.Context) {
	ctx := c.Request.Context()
	src := c.Query("src")
	dest := c.Query("dest")
	exclusions := parseExclusions(c.Query("exclusions"))

	// The result key doubles as the progress key: both hash the same
	// src/dest/exclusions triple, so a client can poll progress for the
	// search it just started.
	key := cache.ResultKey(src, dest, exclusions)
	if data, err := s.cfg.Cache.LoadResult(ctx, key); err == nil {
		s.cfg.Log.Info("serving cached result", "key", key)
		c.Data(http.StatusOK, "application/json", data)
		return
	}

	st := stats.New(s.cfg.Cache, s.cfg.Log)
	st.SetProgressKey(key)
	adsClient := ads.NewClient(s.cfg.Token, s.cfg.Names, st, s.cfg.Log)
	if s.cfg.ADSBaseURL != "" {
		adsClient.BaseURL = s.cfg.ADSBaseURL
	}
	r := repo.New(s.cfg.Cache, adsClient, s.cfg.Names, st, s.cfg.Log)
	if err := r.Refresh(ctx); err != nil {
		s.cfg.Log.Warn("cache refresh failed", "error", err)
	}

	pf, err := pathfinder.New(pathfinder.Config{
		Repository:    r,
		Names:         s.cfg.Names,
		Stats:         st,
		Log:           s.cfg.Log,
		MaxIterations: s.cfg.MaxIterations,
	}, src, dest, exclusions)
	if err != nil {
		s.respondError(c, err, src, dest)
		return
	}

	if err := pf.FindPath(ctx); err != nil {
		s.respondError(c, err, pf.OriginalSrc(), pf.OriginalDest())
		st.LogStats()
		return
	}

	rk := ranker.New(r, s.cfg.Names, st, s.cfg.Log)
	if s.cfg.Weights != (ranker.Weights{}) {
		rk.SetWeights(s.cfg.Weights)
	}
	chains, docData, err := rk.ProcessPathFinder(ctx, pf)
	if err != nil {
		s.respondError(c, err, pf.OriginalSrc(), pf.OriginalDest())
		st.LogStats()
		return
	}

	prepStart := time.Now()
	data, err := json.Marshal(buildResult(pf, chains, docData, st.Totals()))
	if err != nil {
		s.respondError(c, err, pf.OriginalSrc(), pf.OriginalDest())
		return
	}
	st.OnResultPrepared(time.Since(prepStart))

	if err := s.cfg.Cache.StoreResult(ctx, key, data); err != nil {
		s.cfg.Log.Warn("failed to store result", "key", key, "error", err)
	}
	st.FlushProgress(ctx)
	st.LogStats()
	c.Data(http.StatusOK, "application/json", data)
}

func buildResult(pf *pathfinder.PathFinder, chains []ranker.ScoredChain, docData map[string]*ranker.DocData, totals stats.Totals) *Result {
	result := &Result{
		OriginalSrc:          pf.Src().Name().BareOriginalName(),
		OriginalDest:         pf.Dest().Name().BareOriginalName(),
		OriginalSrcWithMods:  pf.Src().Name().OriginalName(),
		OriginalDestWithMods: pf.Dest().Name().OriginalName(),
		DocData:              docData,
		Chains:               make([][]string, len(chains)),
		PaperChoicesForChain: make([][][]ranker.Connection, len(chains)),
		Stats: ResultStats{
			DocsLoaded:         totals.DocsLoaded,
			AuthorsLoaded:      totals.AuthorsQueried,
			NamesSeen:          totals.NamesSeen,
			NetworkQueries:     totals.ADSQueries,
			TimeWaitingNetwork: totals.NetworkTime.Seconds(),
			TotalTime:          totals.SearchTime.Seconds(),
		},
	}
	for i, chain := range chains {
		result.Chains[i] = chain.Authors
		result.PaperChoicesForChain[i] = chain.PaperChoices
	}
	return result
}

// respondError renders err as the uniform error body, still HTTP 200.
func (s *Server) respondError(c *gin.Context, err error, src, dest string) {
	body := errorBody{Src: src, Dest: dest}

	var pfErr *pathfinder.Error
	var rateErr *ads.RateLimitError
	var apiErr *ads.APIError
	switch {
	case errors.As(err, &pfErr):
		body.ErrorKey = pfErr.Key
		body.ErrorMsg = pfErr.Message
	case errors.As(err, &rateErr):
		body.ErrorKey = "rate_limit"
		body.ErrorMsg = rateErr.Error()
		body.Reset = rateErr.ResetTime
	case errors.As(err, &apiErr):
		body.ErrorKey = "ads_error"
		body.ErrorMsg = apiErr.Error()
	default:
		s.cfg.Log.Error("find_route failed", "src", src, "dest", dest, "error", err)
		body.ErrorKey = "unknown"
		body.ErrorMsg = "Unexpected server error"
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getProgress(c *gin.Context) {
	key := c.Query("key")
	p, err := s.cfg.Cache.LoadProgress(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": true})
		return
	}
	c.JSON(http.StatusOK, p)
}

// getGraphData serves the chains array out of a cached result, so a page
// reload can redraw without a fresh search.
func (s *Server) getGraphData(c *gin.Context) {
	src := c.Query("src")
	dest := c.Query("dest")
	exclusions := parseExclusions(c.Query("exclusions"))

	key := cache.ResultKey(src, dest, exclusions)
	data, err := s.cfg.Cache.LoadResult(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": true})
		return
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": true})
		return
	}
	c.JSON(http.StatusOK, result.Chains)
}
