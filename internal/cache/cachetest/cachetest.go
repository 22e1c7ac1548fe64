// Package cachetest provides an in-memory cache.Backing pre-loaded with a
// small coauthorship graph, so the repository and path search can be
// exercised without network or disk access.
//
// The authorship graph:
//
//	          D -- J -- I
//	          |         |
//	K -- A == B == C == F -- H
//	|    |    \\  //
//	L    E ---- G
//
// Author records are not stored directly; they are derived on demand from
// the document fixtures, the same way the production repository derives
// them from query results. Keys carrying a specificity or exact modifier
// always miss, so callers exercise their fallback paths.
package cachetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/record"
)

// Bib expands a short code like "paperAB" into a 19-character bibcode.
func Bib(code string) string {
	return "2020" + code + strings.Repeat(".", 15-len(code))
}

type fixtureDoc struct {
	title    string
	authors  []string
	affils   []string
	orcidIDs []string
	orcidSrc []int
}

var fixtures = map[string]fixtureDoc{
	"paperAB": {
		title:   "Paper Linking A & B",
		authors: []string{"Author, A.", "Author, Bbb"},
		affils:  []string{"Univ of A", "B Center"},
	},
	"paperAB2": {
		title:    "Second Paper Linking A & B",
		authors:  []string{"Author, B.", "Author, Aaa"},
		affils:   []string{"Univ of B", "A Institute"},
		orcidIDs: []string{"ORCID B"},
		orcidSrc: []int{record.OrcidSrcOther},
	},
	"paperAE": {
		title:   "Paper Linking A & E",
		authors: []string{"Author, Aaa", "Author, Eee E."},
		affils:  []string{"A Institute", "E Center for E"},
	},
	"paperAK": {
		title:   "Paper Linking A & K",
		authors: []string{"Author, Aaa", "Author, K."},
		affils:  []string{"A Institute", "K Center for K"},
	},
	"paperBC": {
		title:    "Paper Linking B & C",
		authors:  []string{"Author, C.", "Author, B."},
		affils:   []string{"University of C", "Univ of B"},
		orcidIDs: []string{"", "ORCID B"},
		orcidSrc: []int{record.OrcidSrcNone, record.OrcidSrcPub},
	},
	"paperBCG": {
		title:    "Paper Linking B, C & G",
		authors:  []string{"Author, Bbb", "Author, C. C.", "Author, G."},
		affils:   []string{"B Institute", "Univ. C", "G Center for G"},
		orcidIDs: []string{"Not ORCID B"},
		orcidSrc: []int{record.OrcidSrcPub},
	},
	"paperBD": {
		title:    "Paper Linking B & D",
		authors:  []string{"Author, B.", "Author, D."},
		affils:   []string{"B Institute", "D Center for D"},
		orcidIDs: []string{"ORCID B"},
		orcidSrc: []int{record.OrcidSrcPub},
	},
	"paperBG": {
		title:    "Paper Linking B & G",
		authors:  []string{"Author, Bbb", "Author, G."},
		affils:   []string{"B Institute", "G Center for G"},
		orcidIDs: []string{"ORCID B"},
		orcidSrc: []int{record.OrcidSrcPub},
	},
	"paperCF": {
		title:   "Paper Linking C & F",
		authors: []string{"Author, C.", "Author, F."},
		affils:  []string{"C Institute", "F Center for F"},
	},
	"paperCF2": {
		title:   "Second Paper Linking C & F",
		authors: []string{"Author, C.", "Author, F."},
		affils:  []string{"C University", "F Center for F"},
	},
	"paperCG": {
		title:   "Paper Linking C & G",
		authors: []string{"Author, C.", "Author, G."},
		affils:  []string{"C Institute", "G Center for G at Gtown"},
	},
	"paperDJ": {
		title:    "Paper Linking D & J",
		authors:  []string{"Author, D.", "Author, J. J."},
		affils:   []string{"D Institute", "J Institute, U. J. @ Jtown"},
		orcidIDs: []string{"", "ORCID E"},
		orcidSrc: []int{record.OrcidSrcNone, record.OrcidSrcUser},
	},
	"paperEG": {
		title:    "Paper Linking E & G",
		authors:  []string{"Author, Eee E.", "Author, G."},
		affils:   []string{"E Institute", "G Center for G, Gtown"},
		orcidIDs: []string{"ORCID E"},
		orcidSrc: []int{record.OrcidSrcOther},
	},
	"paperFH": {
		title:   "Paper Linking F & H",
		authors: []string{"Author, F.", "Author, H."},
		affils:  []string{"F Institute | Fville", "H Center for H"},
	},
	"paperFI": {
		title:    "Paper Linking F & I",
		authors:  []string{"Author, F.", "Author, I."},
		affils:   []string{"F Institute, Fville, Fstate, 12345", "I Center for I"},
		orcidIDs: []string{"", "ORCID I"},
		orcidSrc: []int{record.OrcidSrcNone, record.OrcidSrcOther},
	},
	"paperIJ": {
		title:    "Paper Linking J & I",
		authors:  []string{"Author, J. J.", "Author, I."},
		affils:   []string{"J Center, University of J, Other town", "I Center for I"},
		orcidIDs: []string{"", "ORCID I"},
		orcidSrc: []int{record.OrcidSrcNone, record.OrcidSrcUser},
	},
	"paperKL": {
		title:   "Paper Linking K & L",
		authors: []string{"Author, L.", "Author, K."},
		affils:  []string{"L Institute", "K Center for K"},
	},
	"paperKL2": {
		title:   "Second Paper Linking K & L",
		authors: []string{"Author, L.", "Author, L. L.", "Author, K."},
		affils:  []string{"L Institute", "L Institute", "K Center for K"},
	},
	"paperUncon": {
		title:   "Paper Linking Uncon1 & Uncon2",
		authors: []string{"author, unconnected b.", "author, unconnected a."},
		affils:  []string{"B Institute", "A Center for A"},
	},
}

// Backing is an in-memory cache.Backing over the fixture graph. Writes are
// recorded in the Stored* maps for assertions; deletes fail, since nothing
// in the fixture should ever be evicted by the code under test.
type Backing struct {
	ns  *names.NameSpace
	now int64

	mu              sync.Mutex
	documents       map[string]*record.Document
	StoredDocuments map[string]*record.CompressedDocument
	StoredAuthors   map[string]*record.CompressedAuthor
	StoredProgress  map[string]*record.Progress
	StoredResults   map[string][]byte
	resultTimes     map[string]time.Time

	// ServedAuthors records the keys served by LoadAuthor(s), so tests can
	// check which author records a search actually pulled in. In-cache
	// probes do not count.
	ServedAuthors map[string]int
}

var _ cache.Backing = (*Backing)(nil)

var errFixtureDelete = errors.New("fixture backing does not support deletes")

// New returns a Backing over the fixture graph, parsing names in ns.
func New(ns *names.NameSpace) *Backing {
	now := time.Now().Unix()
	docs := make(map[string]*record.Document, len(fixtures))
	for code, f := range fixtures {
		n := len(f.authors)
		docs[Bib(code)] = &record.Document{
			Bibcode:     Bib(code),
			Title:       f.title,
			Authors:     append([]string(nil), f.authors...),
			Affils:      append([]string(nil), f.affils...),
			Doctype:     "article",
			Publication: "mock",
			Pubdate:     "never",
			OrcidIDs:    padTo(f.orcidIDs, n),
			OrcidIDSrc:  padIntsTo(f.orcidSrc, n),
			Timestamp:   now,
		}
	}
	return &Backing{
		ns:              ns,
		now:             now,
		documents:       docs,
		StoredDocuments: make(map[string]*record.CompressedDocument),
		StoredAuthors:   make(map[string]*record.CompressedAuthor),
		StoredProgress:  make(map[string]*record.Progress),
		StoredResults:   make(map[string][]byte),
		resultTimes:     make(map[string]time.Time),
		ServedAuthors:   make(map[string]int),
	}
}

func padTo(xs []string, n int) []string {
	out := make([]string, n)
	copy(out, xs)
	return out
}

func padIntsTo(xs []int, n int) []int {
	out := make([]int, n)
	copy(out, xs)
	return out
}

// Bibcodes returns every fixture bibcode, sorted.
func (b *Backing) Bibcodes() []string {
	out := make([]string, 0, len(b.documents))
	for bibcode := range b.documents {
		out = append(out, bibcode)
	}
	sort.Strings(out)
	return out
}

func (b *Backing) Refresh(ctx context.Context) error { return nil }

func (b *Backing) StoreDocument(ctx context.Context, key string, doc *record.CompressedDocument) error {
	b.mu.Lock()
	b.StoredDocuments[key] = doc
	b.mu.Unlock()
	return nil
}

func (b *Backing) LoadDocument(ctx context.Context, key string) (*record.CompressedDocument, error) {
	doc, ok := b.documents[key]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", cache.ErrMiss, key)
	}
	compressed := doc.Compress()
	compressed.Version = cache.DocumentVersion
	return compressed, nil
}

func (b *Backing) LoadDocuments(ctx context.Context, keys []string) ([]*record.CompressedDocument, error) {
	var out []*record.CompressedDocument
	var missErr error
	for _, key := range keys {
		doc, err := b.LoadDocument(ctx, key)
		if err != nil {
			missErr = err
			continue
		}
		out = append(out, doc)
	}
	return out, missErr
}

func (b *Backing) DeleteDocument(ctx context.Context, key string) error {
	return fmt.Errorf("%w: document %s", errFixtureDelete, key)
}

func (b *Backing) StoreAuthor(ctx context.Context, key string, rec *record.CompressedAuthor) error {
	b.mu.Lock()
	b.StoredAuthors[key] = rec
	b.mu.Unlock()
	return nil
}

// LoadAuthor derives an author record from the document fixtures. Keys that
// carry modifiers miss, and a key ending in "nodocs" yields an empty record
// rather than a miss.
func (b *Backing) LoadAuthor(ctx context.Context, key string) (*record.CompressedAuthor, error) {
	rec, err := b.deriveAuthor(key)
	if err == nil {
		b.mu.Lock()
		b.ServedAuthors[key]++
		b.mu.Unlock()
	}
	return rec, err
}

func (b *Backing) deriveAuthor(key string) (*record.CompressedAuthor, error) {
	if key != "" && strings.ContainsRune("<>=", rune(key[0])) {
		return nil, fmt.Errorf("%w: author %s", cache.ErrMiss, key)
	}
	name, err := b.ns.Parse(key)
	if err != nil {
		return nil, err
	}

	var docs []string
	appearsAs := make(map[string][]int)
	coauthors := make(map[string][]int)
	for _, bibcode := range b.Bibcodes() {
		doc := b.documents[bibcode]
		var matches []string
		for _, author := range doc.Authors {
			parsed, err := b.ns.Parse(author)
			if err != nil {
				return nil, err
			}
			if parsed.Equal(name) {
				matches = append(matches, author)
			}
		}
		if len(matches) == 0 {
			continue
		}
		docs = append(docs, bibcode)
		idx := len(docs) - 1
		for _, form := range matches {
			appearsAs[form] = append(appearsAs[form], idx)
		}
		for _, coauthor := range doc.Authors {
			coauthors[coauthor] = append(coauthors[coauthor], idx)
		}
	}
	if len(docs) == 0 && !strings.HasSuffix(key, "nodocs") {
		return nil, fmt.Errorf("%w: author %s", cache.ErrMiss, key)
	}
	return &record.CompressedAuthor{
		Name:      key,
		Documents: docs,
		AppearsAs: joinIndices(appearsAs),
		Coauthors: joinIndices(coauthors),
		Timestamp: b.now,
		Version:   cache.AuthorVersion,
	}, nil
}

func joinIndices(m map[string][]int) map[string]string {
	out := make(map[string]string, len(m))
	for k, indices := range m {
		parts := make([]string, len(indices))
		for i, idx := range indices {
			parts[i] = strconv.Itoa(idx)
		}
		out[k] = strings.Join(parts, ",")
	}
	return out
}

func (b *Backing) LoadAuthors(ctx context.Context, keys []string) ([]*record.CompressedAuthor, error) {
	var out []*record.CompressedAuthor
	var missErr error
	for _, key := range keys {
		rec, err := b.LoadAuthor(ctx, key)
		if errors.Is(err, cache.ErrMiss) {
			missErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, missErr
}

func (b *Backing) DeleteAuthor(ctx context.Context, key string) error {
	return fmt.Errorf("%w: author %s", errFixtureDelete, key)
}

func (b *Backing) AuthorsAreInCache(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	for i, key := range keys {
		_, err := b.deriveAuthor(key)
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			return nil, err
		}
		out[i] = err == nil
	}
	return out, nil
}

func (b *Backing) StoreProgress(ctx context.Context, key string, p *record.Progress) error {
	b.mu.Lock()
	b.StoredProgress[key] = p
	b.mu.Unlock()
	return nil
}

func (b *Backing) LoadProgress(ctx context.Context, key string) (*record.Progress, error) {
	b.mu.Lock()
	p, ok := b.StoredProgress[key]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: progress %s", cache.ErrMiss, key)
	}
	return p, nil
}

func (b *Backing) DeleteProgress(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.StoredProgress, key)
	b.mu.Unlock()
	return nil
}

func (b *Backing) StoreResult(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.StoredResults[key] = data
	b.resultTimes[key] = time.Now()
	b.mu.Unlock()
	return nil
}

func (b *Backing) LoadResult(ctx context.Context, key string) ([]byte, time.Time, error) {
	b.mu.Lock()
	data, ok := b.StoredResults[key]
	storedAt := b.resultTimes[key]
	b.mu.Unlock()
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%w: result %s", cache.ErrMiss, key)
	}
	return data, storedAt, nil
}

func (b *Backing) ResultIsInCache(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	_, ok := b.StoredResults[key]
	b.mu.Unlock()
	return ok, nil
}

func (b *Backing) DeleteResult(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.StoredResults, key)
	delete(b.resultTimes, key)
	b.mu.Unlock()
	return nil
}

func (b *Backing) ClearStaleData(ctx context.Context, opts cache.ClearOptions) error {
	return nil
}

func (b *Backing) Batch(ctx context.Context, fn func() error) error {
	return fn()
}
