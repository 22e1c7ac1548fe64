// Package stats accumulates per-search counters and timings, periodically
// snapshotting them into the progress cache so a polling client can watch a
// long search advance.
package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/record"
)

// flushInterval is the debounce on progress-cache writes. Counter updates
// arrive far faster than any client polls.
const flushInterval = 250 * time.Millisecond

// Stats tracks one search. Safe for concurrent use.
type Stats struct {
	cache *cache.Cache
	log   *slog.Logger

	mu                  sync.Mutex
	progressKey         string
	adsQueries          int
	authorsQueried      int
	docsQueried         int
	docsLoaded          int
	docsRelevant        int
	coauthorsConsidered int
	networkWaits        []time.Duration
	authorLoadWait      time.Duration
	docLoadWait         time.Duration
	responsePrep        time.Duration
	startTime           time.Time
	stopTime            time.Time
	complete            bool
	lastFlush           time.Time
}

// New returns a Stats writing progress snapshots through c.
func New(c *cache.Cache, log *slog.Logger) *Stats {
	if log == nil {
		log = slog.Default()
	}
	return &Stats{cache: c, log: log}
}

// SetProgressKey names the progress-cache entry snapshots are written to.
// With no key set, snapshots are skipped.
func (s *Stats) SetProgressKey(key string) {
	s.mu.Lock()
	s.progressKey = key
	s.mu.Unlock()
}

// Reset clears all counters and timings for a new search.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.adsQueries = 0
	s.authorsQueried = 0
	s.docsQueried = 0
	s.docsLoaded = 0
	s.docsRelevant = 0
	s.coauthorsConsidered = 0
	s.networkWaits = nil
	s.authorLoadWait = 0
	s.docLoadWait = 0
	s.responsePrep = 0
	s.startTime = time.Time{}
	s.stopTime = time.Time{}
	s.complete = false
	s.lastFlush = time.Time{}
	s.mu.Unlock()
}

func (s *Stats) OnADSQueryComplete(ctx context.Context, elapsed time.Duration) {
	s.mu.Lock()
	s.adsQueries++
	s.networkWaits = append(s.networkWaits, elapsed)
	s.mu.Unlock()
	s.maybeFlush(ctx)
}

func (s *Stats) OnAuthorsQueried(ctx context.Context, n int) {
	s.mu.Lock()
	s.authorsQueried += n
	s.mu.Unlock()
	s.maybeFlush(ctx)
}

func (s *Stats) OnDocsQueried(ctx context.Context, n int) {
	s.mu.Lock()
	s.docsQueried += n
	s.mu.Unlock()
	s.maybeFlush(ctx)
}

func (s *Stats) OnDocsLoaded(ctx context.Context, n int) {
	s.mu.Lock()
	s.docsLoaded += n
	s.mu.Unlock()
	s.maybeFlush(ctx)
}

// SetDocsRelevant records how many documents the final route set touches.
func (s *Stats) SetDocsRelevant(ctx context.Context, n int) {
	s.mu.Lock()
	s.docsRelevant = n
	s.mu.Unlock()
	s.maybeFlush(ctx)
}

func (s *Stats) OnCoauthorsConsidered(ctx context.Context, n int) {
	s.mu.Lock()
	s.coauthorsConsidered += n
	s.mu.Unlock()
	s.maybeFlush(ctx)
}

func (s *Stats) OnAuthorLoadTimed(elapsed time.Duration) {
	s.mu.Lock()
	s.authorLoadWait += elapsed
	s.mu.Unlock()
}

func (s *Stats) OnDocLoadTimed(elapsed time.Duration) {
	s.mu.Lock()
	s.docLoadWait += elapsed
	s.mu.Unlock()
}

func (s *Stats) OnStartPathFinding(ctx context.Context) {
	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()
	s.FlushProgress(ctx)
}

// OnStopPathFinding marks the search complete and forces a final snapshot,
// so pollers see path_finding_complete even between result renders.
func (s *Stats) OnStopPathFinding(ctx context.Context) {
	s.mu.Lock()
	s.stopTime = time.Now()
	s.complete = true
	s.mu.Unlock()
	s.FlushProgress(ctx)
}

func (s *Stats) OnResultPrepared(elapsed time.Duration) {
	s.mu.Lock()
	s.responsePrep = elapsed
	s.mu.Unlock()
}

// SearchTime reports how long path finding ran, or -1 if it has not both
// started and stopped.
func (s *Stats) SearchTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startTime.IsZero() || s.stopTime.IsZero() {
		return -1
	}
	return s.stopTime.Sub(s.startTime)
}

// Snapshot returns the current counters as a progress record.
func (s *Stats) Snapshot() *record.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Stats) snapshotLocked() *record.Progress {
	return &record.Progress{
		ADSQueries:          s.adsQueries,
		AuthorsQueried:      s.authorsQueried,
		DocsQueried:         s.docsQueried,
		DocsRelevant:        s.docsRelevant,
		DocsLoaded:          s.docsLoaded,
		PathFindingComplete: s.complete,
		Timestamp:           time.Now().Unix(),
	}
}

// Totals used when rendering the result payload.
type Totals struct {
	DocsLoaded     int
	AuthorsQueried int
	NamesSeen      int
	ADSQueries     int
	NetworkTime    time.Duration
	SearchTime     time.Duration
}

func (s *Stats) Totals() Totals {
	searchTime := s.SearchTime()
	s.mu.Lock()
	defer s.mu.Unlock()
	var networkTime time.Duration
	for _, w := range s.networkWaits {
		networkTime += w
	}
	return Totals{
		DocsLoaded:     s.docsLoaded,
		AuthorsQueried: s.authorsQueried,
		NamesSeen:      s.coauthorsConsidered,
		ADSQueries:     s.adsQueries,
		NetworkTime:    networkTime,
		SearchTime:     searchTime,
	}
}

func (s *Stats) maybeFlush(ctx context.Context) {
	s.mu.Lock()
	if s.progressKey == "" || time.Since(s.lastFlush) < flushInterval {
		s.mu.Unlock()
		return
	}
	s.flushLocked(ctx)
}

// FlushProgress writes a snapshot immediately, ignoring the debounce.
func (s *Stats) FlushProgress(ctx context.Context) {
	s.mu.Lock()
	if s.progressKey == "" {
		s.mu.Unlock()
		return
	}
	s.flushLocked(ctx)
}

// flushLocked writes the snapshot and releases the mutex.
func (s *Stats) flushLocked(ctx context.Context) {
	s.lastFlush = time.Now()
	key := s.progressKey
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.cache.StoreProgress(ctx, key, snapshot); err != nil {
		s.log.Warn("failed to store progress data", "key", key, "error", err)
	}
}

// LogStats writes a per-search summary to the log.
func (s *Stats) LogStats() {
	s.mu.Lock()
	waits := append([]time.Duration(nil), s.networkWaits...)
	docsLoaded, authorsQueried := s.docsLoaded, s.authorsQueried
	coauthors := s.coauthorsConsidered
	authorWait, docWait := s.authorLoadWait, s.docLoadWait
	prep := s.responsePrep
	s.mu.Unlock()

	s.log.Info("query counts",
		"docs_loaded", docsLoaded,
		"authors_queried", authorsQueried,
		"coauthor_names_seen", coauthors)
	if len(waits) == 0 {
		s.log.Info("no network queries")
	} else {
		sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
		var total time.Duration
		for _, w := range waits {
			total += w
		}
		s.log.Info("network queries",
			"n", len(waits),
			"min", waits[0],
			"median", waits[len(waits)/2],
			"max", waits[len(waits)-1],
			"total", total)
	}
	s.log.Info("backing cache time",
		"authors", authorWait,
		"documents", docWait)
	s.log.Info("search complete",
		"search_time", s.SearchTime(),
		"response_prep_time", prep)
}
