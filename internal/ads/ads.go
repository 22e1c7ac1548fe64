// Package ads is the client for the NASA ADS search API. It fetches
// documents and per-author publication lists, folding queued-up authors
// into each request so one round trip serves several upcoming lookups.
package ads

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/record"
	"github.com/svank/appa-backend/internal/stats"
)

// DefaultBaseURL is the production search endpoint.
const DefaultBaseURL = "https://api.adsabs.harvard.edu/v1/search/query"

var queryFields = []string{
	"bibcode", "title", "author", "aff", "doctype",
	"keyword", "pub", "date", "citation_count", "read_count",
	"orcid_pub", "orcid_user", "orcid_other",
}

var allowedDoctypes = []string{"article", "eprint", "inbook", "book", "software"}

// These params control how many authors from the prefetch queue are folded
// into each query. The estimated number of papers per author must be high
// to accommodate outliers with many papers, so it is more of a control
// parameter than a true estimate.
const (
	maximumResponseSize         = 2000
	estimatedDocumentsPerAuthor = 300
)

const (
	connectTimeout       = 6050 * time.Millisecond
	readTimeoutPerAuthor = 6 * time.Second
)

// RateLimitError reports an exhausted ADS daily query quota.
type RateLimitError struct {
	Limit     string
	ResetTime string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("ADS daily query quota of %s exceeded, reset at %s",
		e.Limit, e.ResetTime)
}

// APIError reports an error returned in an ADS response body.
type APIError struct {
	Key     string
	Message string
}

func (e *APIError) Error() string {
	return "ADS says: " + e.Message
}

// Client queries the ADS search API. Safe for concurrent use.
type Client struct {
	// BaseURL may be pointed at a test server.
	BaseURL string

	token string
	http  *http.Client
	ns    *names.NameSpace
	stats *stats.Stats
	log   *slog.Logger

	mu            sync.Mutex
	prefetchQueue []*names.Name
	prefetchSet   map[string]struct{}
}

// NewClient returns a Client authenticating with token.
func NewClient(token string, ns *names.NameSpace, st *stats.Stats, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		BaseURL:     DefaultBaseURL,
		token:       token,
		http:        &http.Client{},
		ns:          ns,
		stats:       st,
		log:         log,
		prefetchSet: make(map[string]struct{}),
	}
}

type searchDoc struct {
	Bibcode       string   `json:"bibcode"`
	Title         []string `json:"title"`
	Author        []string `json:"author"`
	Aff           []string `json:"aff"`
	Doctype       string   `json:"doctype"`
	Keyword       []string `json:"keyword"`
	Pub           string   `json:"pub"`
	Date          string   `json:"date"`
	CitationCount int      `json:"citation_count"`
	ReadCount     int      `json:"read_count"`
	OrcidPub      []string `json:"orcid_pub"`
	OrcidUser     []string `json:"orcid_user"`
	OrcidOther    []string `json:"orcid_other"`
}

type searchResponse struct {
	Response struct {
		NumFound int         `json:"numFound"`
		Docs     []searchDoc `json:"docs"`
	} `json:"response"`
	Error *struct {
		Msg string `json:"msg"`
	} `json:"error"`
}

// GetDocument fetches a single document by bibcode.
func (c *Client) GetDocument(ctx context.Context, bibcode string) (*record.Document, error) {
	c.log.Info("querying ADS for bibcode", "bibcode", bibcode)
	params := url.Values{}
	params.Set("q", "bibcode:"+bibcode)
	params.Set("fl", strings.Join(queryFields, ","))

	data, err := c.doQuery(ctx, params, 1)
	if err != nil {
		return nil, err
	}
	if len(data.Response.Docs) == 0 {
		return nil, &APIError{Key: "ads_error",
			Message: "no document found for bibcode " + bibcode}
	}
	return c.articleToRecord(&data.Response.Docs[0]), nil
}

// GetPapersForOrcidID fetches every document carrying the given ORCID id
// and assembles an author record under the id holder's most detailed name.
func (c *Client) GetPapersForOrcidID(ctx context.Context, orcidID string) (*record.AuthorRecord, []*record.Document, error) {
	orcidID = NormalizeOrcidID(orcidID)
	c.log.Info("querying ADS for orcid id", "orcid_id", orcidID)

	documents, err := c.queryForAuthor(ctx, fmt.Sprintf("orcid:(%s)", orcidID), 1)
	if err != nil {
		return nil, nil, err
	}

	rec := record.NewAuthorRecord(c.ns.ParsePreserved(orcidID))
	seen := make(map[string]struct{})
	var forms []*names.Name
	for _, document := range documents {
		idx := -1
		for i, id := range document.OrcidIDs {
			if id == orcidID {
				idx = i
				break
			}
		}
		if idx < 0 {
			c.log.Warn("ORCID ID not found in document",
				"bibcode", document.Bibcode, "orcid_id", orcidID)
			continue
		}
		rec.Documents = append(rec.Documents, document.Bibcode)
		form := document.Authors[idx]
		if _, ok := seen[form]; !ok {
			seen[form] = struct{}{}
			if name, err := c.ns.Parse(form); err == nil {
				forms = append(forms, name)
			}
		}
	}

	// Represent the author by the most detailed form of their name.
	if best := mostDetailed(forms); best != nil {
		rec.Name = best
	}
	return rec, documents, nil
}

func mostDetailed(forms []*names.Name) *names.Name {
	var best *names.Name
	for _, n := range forms {
		if best == nil || moreDetailed(n, best) {
			best = n
		}
	}
	return best
}

func moreDetailed(a, b *names.Name) bool {
	if a.LevelOfDetail() != b.LevelOfDetail() {
		return a.LevelOfDetail() > b.LevelOfDetail()
	}
	if len(a.FullName()) != len(b.FullName()) {
		return len(a.FullName()) > len(b.FullName())
	}
	return a.FullName() > b.FullName()
}

// GetPapersForAuthor fetches publication lists for queryAuthor, pulling
// queued authors into the same request. The returned dict has a record for
// every author that was part of the query.
func (c *Client) GetPapersForAuthor(ctx context.Context, queryAuthor *names.Name) (*names.Dict[*record.AuthorRecord], []*record.Document, error) {
	queryAuthors := c.selectAuthorsToPrefetch()
	found := false
	for _, a := range queryAuthors {
		if a.Equal(queryAuthor) {
			found = true
			break
		}
	}
	if !found {
		queryAuthors = append(queryAuthors, queryAuthor)
	}

	c.log.Info("querying ADS for author", "author", queryAuthor.String())
	if len(queryAuthors) > 1 {
		all := make([]string, len(queryAuthors))
		for i, a := range queryAuthors {
			all[i] = a.String()
		}
		c.log.Info("also prefetching", "query", strings.Join(all, "; "))
	}

	queryStrings := make([]string, len(queryAuthors))
	for i, author := range queryAuthors {
		qs := `"` + author.FullName() + `"`
		if author.Mods().RequireExact {
			qs = "=" + qs
		}
		queryStrings[i] = qs
	}
	query := fmt.Sprintf("author:(%s)", strings.Join(queryStrings, " OR "))

	documents, err := c.queryForAuthor(ctx, query, len(queryAuthors))
	if err != nil {
		return nil, nil, err
	}

	authorRecords := names.NewDict[*record.AuthorRecord]()
	for _, author := range queryAuthors {
		authorRecords.Set(author, record.NewAuthorRecord(author))
	}
	// Every document must be matched back to the author list. This is
	// critically important when prefetching, and it is also what makes the
	// "<" and ">" specificity selectors work.
	anySpecificity := false
	for _, a := range queryAuthors {
		if a.Mods().HasSpecificity() {
			anySpecificity = true
		}
	}
	for _, document := range documents {
		matched := false
		for _, authorString := range document.Authors {
			name, err := c.ns.Parse(authorString)
			if err != nil {
				continue
			}
			if rec, ok := authorRecords.Get(name); ok {
				rec.Documents = append(rec.Documents, document.Bibcode)
				matched = true
			}
		}
		if !matched && !anySpecificity {
			c.log.Warn("no matches for document", "bibcode", document.Bibcode)
		}
	}

	// Duplicate listings appear for papers with many initials-only authors.
	for _, rec := range authorRecords.Values() {
		rec.SortDocuments()
	}
	return authorRecords, documents, nil
}

func (c *Client) queryForAuthor(ctx context.Context, query string, nAuthors int) ([]*record.Document, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Add("fq", "doctype:"+strings.Join(allowedDoctypes, " OR doctype:"))
	params.Add("fq", "database:astronomy")
	params.Set("start", "0")
	params.Set("rows", strconv.Itoa(maximumResponseSize))
	params.Set("fl", strings.Join(queryFields, ","))
	params.Set("sort", "date+asc")

	var documents []*record.Document
	start := 0
	for {
		params.Set("start", strconv.Itoa(start))
		data, err := c.doQuery(ctx, params, nAuthors)
		if err != nil {
			return nil, err
		}
		received := len(data.Response.Docs)
		for i := range data.Response.Docs {
			documents = append(documents, c.articleToRecord(&data.Response.Docs[i]))
		}
		if data.Response.NumFound <= start+received || received == 0 {
			break
		}
		c.log.Info("got too many documents in request",
			"num_found", data.Response.NumFound,
			"start", start,
			"docs_received", received)
		start += received
	}
	return documents, nil
}

func (c *Client) doQuery(ctx context.Context, params url.Values, nAuthors int) (*searchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx,
		connectTimeout+time.Duration(nAuthors)*readTimeoutPerAuthor)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	tStart := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(tStart)
	c.stats.OnADSQueryComplete(ctx, elapsed)
	if err != nil {
		return nil, fmt.Errorf("ADS query: %w", err)
	}
	defer resp.Body.Close()

	if elapsed > 2*time.Duration(nAuthors)*time.Second {
		c.log.Warn("long ADS query", "elapsed", elapsed, "q", params.Get("q"))
	}

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil && n <= 1 {
			reset := "unknown"
			if at, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
				reset = time.Unix(at, 0).UTC().Format("2006-01-02 15:04:05 UTC")
			}
			return nil, &RateLimitError{
				Limit:     resp.Header.Get("X-RateLimit-Limit"),
				ResetTime: reset,
			}
		}
	} else {
		c.log.Warn("ADS query did not return X-RateLimit-Remaining")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ADS response: %w", err)
	}
	var data searchResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode ADS response: %w", err)
	}
	if data.Error != nil {
		return nil, &APIError{Key: "ads_error", Message: data.Error.Msg}
	}
	return &data, nil
}

// articleToRecord converts one raw search hit into a Document, selecting a
// single ORCID id per author and dropping unparseable author names.
func (c *Client) articleToRecord(art *searchDoc) *record.Document {
	n := len(art.Author)
	orcidPub := cleanOrcidList(art.OrcidPub, n)
	orcidUser := cleanOrcidList(art.OrcidUser, n)
	orcidOther := cleanOrcidList(art.OrcidOther, n)

	orcidIDs := make([]string, n)
	orcidSrc := make([]int, n)
	for i := 0; i < n; i++ {
		switch {
		case orcidPub[i] != "" && IsOrcidID(orcidPub[i]):
			orcidIDs[i] = NormalizeOrcidID(orcidPub[i])
			orcidSrc[i] = record.OrcidSrcPub
		case orcidUser[i] != "" && IsOrcidID(orcidUser[i]):
			orcidIDs[i] = NormalizeOrcidID(orcidUser[i])
			orcidSrc[i] = record.OrcidSrcUser
		case orcidOther[i] != "" && IsOrcidID(orcidOther[i]):
			orcidIDs[i] = NormalizeOrcidID(orcidOther[i])
			orcidSrc[i] = record.OrcidSrcOther
		}
	}

	authors := make([]string, n)
	for i, a := range art.Author {
		authors[i] = html.UnescapeString(a)
	}
	affils := make([]string, n)
	for i := 0; i < n; i++ {
		if i < len(art.Aff) && art.Aff[i] != "-" {
			affils[i] = html.UnescapeString(art.Aff[i])
		}
	}
	keywords := make([]string, len(art.Keyword))
	for i, k := range art.Keyword {
		keywords[i] = html.UnescapeString(k)
	}

	title := "[No title given]"
	if len(art.Title) > 0 {
		title = html.UnescapeString(art.Title[0])
	}
	pub := "[Publication not given]"
	if art.Pub != "" {
		pub = html.UnescapeString(art.Pub)
	}

	doc := record.NewDocument(art.Bibcode)
	doc.Title = title
	doc.Authors = authors
	doc.Affils = affils
	doc.Doctype = art.Doctype
	doc.Keywords = keywords
	doc.Publication = pub
	doc.Pubdate = art.Date
	doc.CitationCount = art.CitationCount
	doc.ReadCount = art.ReadCount
	doc.OrcidIDs = orcidIDs
	doc.OrcidIDSrc = orcidSrc

	// Remove invalid author names in place, back to front so the indices
	// stay valid.
	var badIndices []int
	for i, author := range doc.Authors {
		name, err := c.ns.Parse(author)
		if err != nil {
			c.log.Warn("invalid author name",
				"bibcode", doc.Bibcode, "author", author)
			badIndices = append(badIndices, i)
			continue
		}
		if name.FullName() == "et al" || name.FullName() == "anonymous" {
			badIndices = append(badIndices, i)
		}
	}
	for i := len(badIndices) - 1; i >= 0; i-- {
		doc.DeleteAuthor(badIndices[i])
	}
	return doc
}

func cleanOrcidList(xs []string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n && i < len(xs); i++ {
		if xs[i] != "-" {
			out[i] = xs[i]
		}
	}
	return out
}

// AddAuthorsToPrefetchQueue queues authors for inclusion in an upcoming
// author query. Already-queued names are skipped.
func (c *Client) AddAuthorsToPrefetchQueue(authors ...*names.Name) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, author := range authors {
		key := author.String()
		if _, ok := c.prefetchSet[key]; ok {
			continue
		}
		c.prefetchSet[key] = struct{}{}
		c.prefetchQueue = append(c.prefetchQueue, author)
	}
}

func (c *Client) selectAuthorsToPrefetch() []*names.Name {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Debug("prefetch queue", "n", len(c.prefetchQueue))
	n := maximumResponseSize/estimatedDocumentsPerAuthor - 1
	if n > len(c.prefetchQueue) {
		n = len(c.prefetchQueue)
	}
	if n <= 0 {
		return nil
	}
	prefetches := append([]*names.Name(nil), c.prefetchQueue[:n]...)
	c.prefetchQueue = c.prefetchQueue[n:]
	for _, p := range prefetches {
		delete(c.prefetchSet, p.String())
	}
	return prefetches
}

// IsBibcode reports whether value looks like a 19-character ADS bibcode.
func IsBibcode(value string) bool {
	if len(value) != 19 {
		return false
	}
	for _, c := range value[:4] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsOrcidID reports whether value is an ORCID id, with or without dashes.
func IsOrcidID(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) == 19 {
		if value[4] != '-' || value[9] != '-' || value[14] != '-' {
			return false
		}
		value = strings.ReplaceAll(value, "-", "")
	}
	if len(value) != 16 {
		return false
	}
	// 'X' is valid in the last character only.
	if value[15] == 'X' || value[15] == 'x' {
		value = value[:15]
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// NormalizeOrcidID returns a valid ORCID id in its dashed form.
func NormalizeOrcidID(value string) string {
	value = strings.TrimSpace(value)
	if len(value) == 16 {
		return value[0:4] + "-" + value[4:8] + "-" + value[8:12] + "-" + value[12:16]
	}
	return value
}
