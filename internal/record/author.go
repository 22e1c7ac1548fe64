package record

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/svank/appa-backend/internal/names"
)

// AuthorRecord is everything known about one author query: the documents
// they authored, the name forms they appear under, and their coauthors.
// AppearsAs and Coauthors map name strings to the bibcodes (from Documents)
// where that form occurs.
type AuthorRecord struct {
	Name      *names.Name
	Documents []string // sorted, de-duplicated bibcodes
	AppearsAs map[string][]string
	Coauthors map[string][]string
	Timestamp int64
}

// NewAuthorRecord returns an empty record for name, timestamped now.
func NewAuthorRecord(name *names.Name) *AuthorRecord {
	return &AuthorRecord{
		Name:      name,
		AppearsAs: make(map[string][]string),
		Coauthors: make(map[string][]string),
		Timestamp: time.Now().Unix(),
	}
}

// Copy returns a deep copy.
func (a *AuthorRecord) Copy() *AuthorRecord {
	c := &AuthorRecord{
		Name:      a.Name,
		Documents: append([]string(nil), a.Documents...),
		AppearsAs: copyIndex(a.AppearsAs),
		Coauthors: copyIndex(a.Coauthors),
		Timestamp: a.Timestamp,
	}
	return c
}

func copyIndex(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// CompressedAuthor is the AuthorRecord wire form. The alias and coauthor
// indices store comma-joined positions into Documents instead of repeating
// every bibcode, and the name collapses to its original string.
type CompressedAuthor struct {
	Name      string            `json:"name"`
	Documents []string          `json:"documents"`
	AppearsAs map[string]string `json:"appears_as"`
	Coauthors map[string]string `json:"coauthors"`
	Timestamp int64             `json:"timestamp"`
	Version   int               `json:"version"`
}

// Compress converts a to its wire form. a is not modified.
func (a *AuthorRecord) Compress() (*CompressedAuthor, error) {
	docIndex := make(map[string]int, len(a.Documents))
	for i, bibcode := range a.Documents {
		docIndex[bibcode] = i
	}
	appearsAs, err := compressIndex(a.AppearsAs, docIndex)
	if err != nil {
		return nil, fmt.Errorf("author %s: %w", a.Name, err)
	}
	coauthors, err := compressIndex(a.Coauthors, docIndex)
	if err != nil {
		return nil, fmt.Errorf("author %s: %w", a.Name, err)
	}
	return &CompressedAuthor{
		Name:      a.Name.OriginalName(),
		Documents: append([]string(nil), a.Documents...),
		AppearsAs: appearsAs,
		Coauthors: coauthors,
		Timestamp: a.Timestamp,
	}, nil
}

func compressIndex(m map[string][]string, docIndex map[string]int) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, bibcodes := range m {
		parts := make([]string, 0, len(bibcodes))
		for _, bibcode := range bibcodes {
			i, ok := docIndex[bibcode]
			if !ok {
				return nil, fmt.Errorf("index entry %q references unlisted document %s", k, bibcode)
			}
			parts = append(parts, strconv.Itoa(i))
		}
		out[k] = strings.Join(parts, ",")
	}
	return out, nil
}

// Decompress restores the full AuthorRecord, parsing the name in ns.
func (c *CompressedAuthor) Decompress(ns *names.NameSpace) (*AuthorRecord, error) {
	name, err := ns.Parse(c.Name)
	if err != nil {
		return nil, err
	}
	appearsAs, err := decompressIndex(c.AppearsAs, c.Documents)
	if err != nil {
		return nil, fmt.Errorf("author %s: %w", c.Name, err)
	}
	coauthors, err := decompressIndex(c.Coauthors, c.Documents)
	if err != nil {
		return nil, fmt.Errorf("author %s: %w", c.Name, err)
	}
	return &AuthorRecord{
		Name:      name,
		Documents: append([]string(nil), c.Documents...),
		AppearsAs: appearsAs,
		Coauthors: coauthors,
		Timestamp: c.Timestamp,
	}, nil
}

func decompressIndex(m map[string]string, documents []string) (map[string][]string, error) {
	out := make(map[string][]string, len(m))
	for k, joined := range m {
		if joined == "" {
			out[k] = nil
			continue
		}
		parts := strings.Split(joined, ",")
		bibcodes := make([]string, 0, len(parts))
		for _, part := range parts {
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(documents) {
				return nil, fmt.Errorf("index entry %q has bad document position %q", k, part)
			}
			bibcodes = append(bibcodes, documents[i])
		}
		out[k] = bibcodes
	}
	return out, nil
}

// SortDocuments sorts and de-duplicates the bibcode list in place.
func (a *AuthorRecord) SortDocuments() {
	sort.Strings(a.Documents)
	a.Documents = dedupSorted(a.Documents)
}

func dedupSorted(xs []string) []string {
	out := xs[:0]
	for i, x := range xs {
		if i == 0 || x != xs[i-1] {
			out = append(out, x)
		}
	}
	return out
}
