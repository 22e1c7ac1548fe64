// Package repo mediates every record lookup: cache first, then derivation
// from already-cached data, then the ADS API, writing fresh results back to
// the cache on the way out.
package repo

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/svank/appa-backend/internal/ads"
	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/record"
	"github.com/svank/appa-backend/internal/stats"
)

// Repository serves author and document records. Safe for concurrent use.
type Repository struct {
	cache *cache.Cache
	ads   *ads.Client
	ns    *names.NameSpace
	stats *stats.Stats
	log   *slog.Logger
}

// New returns a Repository over c and adsClient.
func New(c *cache.Cache, adsClient *ads.Client, ns *names.NameSpace, st *stats.Stats, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{cache: c, ads: adsClient, ns: ns, stats: st, log: log}
}

// Refresh lets the cache prune and re-scan before a search begins.
func (r *Repository) Refresh(ctx context.Context) error {
	return r.cache.Refresh(ctx)
}

// GetAuthorRecord returns the record for author, from the cache, by
// deriving it from an already-cached unmodified record, or from ADS.
func (r *Repository) GetAuthorRecord(ctx context.Context, author *names.Name) (*record.AuthorRecord, error) {
	tStart := time.Now()
	rec, err := r.cache.LoadAuthor(ctx, author)
	r.stats.OnAuthorLoadTimed(time.Since(tStart))
	if errors.Is(err, cache.ErrMiss) {
		rec, err = r.tryGeneratingAuthorRecord(ctx, author)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			rec, err = r.fetchAuthorFromADS(ctx, author)
			if err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}
	r.stats.OnAuthorsQueried(ctx, 1)
	r.stats.OnDocsQueried(ctx, len(rec.Documents))
	return rec, nil
}

func (r *Repository) fetchAuthorFromADS(ctx context.Context, author *names.Name) (*record.AuthorRecord, error) {
	authorRecords, documents, err := r.ads.GetPapersForAuthor(ctx, author)
	if err != nil {
		return nil, err
	}
	if err := r.cache.CacheDocuments(ctx, documents); err != nil {
		return nil, err
	}
	var toCache []*record.AuthorRecord
	for _, rec := range authorRecords.Values() {
		if err := r.fillInCoauthors(ctx, rec); err != nil {
			return nil, err
		}
		if len(rec.Documents) > 0 {
			toCache = append(toCache, rec)
		}
	}
	if err := r.cache.CacheAuthors(ctx, toCache); err != nil {
		return nil, err
	}
	rec, ok := authorRecords.Get(author)
	if !ok {
		// The queried author is always part of the query set.
		rec = record.NewAuthorRecord(author)
	}
	return rec, nil
}

// GetAuthorRecordByOrcidID returns the record cached under the ORCID id,
// fetching it from ADS on a miss.
func (r *Repository) GetAuthorRecordByOrcidID(ctx context.Context, orcidID string) (*record.AuthorRecord, error) {
	tStart := time.Now()
	rec, err := r.cache.LoadAuthorByKey(ctx, orcidID)
	r.stats.OnAuthorLoadTimed(time.Since(tStart))
	if errors.Is(err, cache.ErrMiss) {
		var documents []*record.Document
		rec, documents, err = r.ads.GetPapersForOrcidID(ctx, orcidID)
		if err != nil {
			return nil, err
		}
		if err := r.cache.CacheDocuments(ctx, documents); err != nil {
			return nil, err
		}
		if err := r.fillInCoauthors(ctx, rec); err != nil {
			return nil, err
		}
		if len(rec.Documents) > 0 {
			if err := r.cache.CacheAuthorUnderKey(ctx, orcidID, rec); err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}
	r.stats.OnAuthorsQueried(ctx, 1)
	r.stats.OnDocsQueried(ctx, len(rec.Documents))
	return rec, nil
}

// GetDocument returns the document for bibcode, from the cache or ADS.
func (r *Repository) GetDocument(ctx context.Context, bibcode string) (*record.Document, error) {
	tStart := time.Now()
	doc, err := r.cache.LoadDocument(ctx, bibcode)
	r.stats.OnDocLoadTimed(time.Since(tStart))
	if errors.Is(err, cache.ErrMiss) {
		doc, err = r.ads.GetDocument(ctx, bibcode)
		if err != nil {
			return nil, err
		}
		if err := r.cache.CacheDocument(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	return doc, err
}

// NotifyOfUpcomingAuthorRequest queues authors expected to be looked up
// soon. Authors already in the cache, or derivable from cached data, are
// not queued.
func (r *Repository) NotifyOfUpcomingAuthorRequest(ctx context.Context, authors ...*names.Name) error {
	inCache, err := r.cache.AuthorsAreInCache(ctx, authors)
	if err != nil {
		return err
	}
	var remaining []*names.Name
	for i, a := range authors {
		if !inCache[i] {
			remaining = append(remaining, a)
		}
	}
	canGenerate, err := r.canGenerateAuthorRequests(ctx, remaining)
	if err != nil {
		return err
	}
	var toQueue []*names.Name
	for i, a := range remaining {
		if !canGenerate[i] {
			toQueue = append(toQueue, a)
		}
	}
	r.ads.AddAuthorsToPrefetchQueue(toQueue...)
	return nil
}

// NotifyOfUpcomingDocumentRequest warms the in-memory cache with one bulk
// load. Documents are almost always cached already by the time they are
// individually requested.
func (r *Repository) NotifyOfUpcomingDocumentRequest(ctx context.Context, bibcodes ...string) {
	if _, err := r.cache.LoadDocuments(ctx, bibcodes, true); err != nil {
		r.log.Warn("bulk document warm-up failed", "error", err)
	}
}

// fillInCoauthors rebuilds rec's AppearsAs and Coauthors indices from the
// cached documents in rec.Documents.
func (r *Repository) fillInCoauthors(ctx context.Context, rec *record.AuthorRecord) error {
	documents, err := r.cache.LoadDocuments(ctx, rec.Documents, false)
	if err != nil {
		return err
	}
	appearsAs := make(map[string]map[string]struct{})
	coauthors := make(map[string]map[string]struct{})
	for _, document := range documents {
		for _, coauthor := range document.Authors {
			name, err := r.ns.Parse(coauthor)
			if err != nil {
				continue
			}
			target := coauthors
			if name.Equal(rec.Name) {
				target = appearsAs
			}
			if target[coauthor] == nil {
				target[coauthor] = make(map[string]struct{})
			}
			target[coauthor][document.Bibcode] = struct{}{}
		}
	}
	rec.AppearsAs = sortedIndex(appearsAs)
	rec.Coauthors = sortedIndex(coauthors)
	return nil
}

func sortedIndex(m map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, bibcodes := range m {
		sorted := make([]string, 0, len(bibcodes))
		for bibcode := range bibcodes {
			sorted = append(sorted, bibcode)
		}
		sort.Strings(sorted)
		out[k] = sorted
	}
	return out
}

// tryGeneratingAuthorRecord derives a record for a modified name from
// cached data. If "=Doe, J." is searched for and "Doe, J." is already
// cached, the requested record follows without going to ADS. Returns
// (nil, nil) when derivation is not possible.
func (r *Repository) tryGeneratingAuthorRecord(ctx context.Context, author *names.Name) (*record.AuthorRecord, error) {
	if !author.Mods().HasSpecificity() {
		return nil, nil
	}
	unmodified, err := r.ns.Parse(author.FullName())
	if err != nil {
		return nil, err
	}
	baseRecord, err := r.cache.LoadAuthor(ctx, unmodified)
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	documents, err := r.cache.LoadDocuments(ctx, baseRecord.Documents, false)
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := record.NewAuthorRecord(author)
	for _, document := range documents {
		for _, coauthor := range document.Authors {
			name, err := r.ns.Parse(coauthor)
			if err != nil {
				continue
			}
			if name.Equal(author) {
				rec.Documents = append(rec.Documents, document.Bibcode)
				break
			}
		}
	}
	rec.SortDocuments()
	if err := r.fillInCoauthors(ctx, rec); err != nil {
		return nil, err
	}
	if err := r.cache.CacheAuthor(ctx, rec); err != nil {
		return nil, err
	}
	r.log.Info("author record constructed from cache", "author", author.String())
	return rec, nil
}

// canGenerateAuthorRequests reports, per author, whether the record could
// be derived from cached data instead of queried.
func (r *Repository) canGenerateAuthorRequests(ctx context.Context, authors []*names.Name) ([]bool, error) {
	fullNames := make([]*names.Name, len(authors))
	for i, a := range authors {
		name, err := r.ns.Parse(a.FullName())
		if err != nil {
			return nil, err
		}
		fullNames[i] = name
	}
	inCache, err := r.cache.AuthorsAreInCache(ctx, fullNames)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(authors))
	for i, a := range authors {
		out[i] = inCache[i] && a.Mods().HasSpecificity()
	}
	return out, nil
}
