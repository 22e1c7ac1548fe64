// Package record defines the value types that move between the ADS client,
// the cache, and the path finder: documents (papers), author records, and
// progress counters, together with their compressed on-wire forms.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ORCID id sources, per slot in Document.OrcidIDSrc.
const (
	OrcidSrcNone  = 0
	OrcidSrcPub   = 1
	OrcidSrcUser  = 2
	OrcidSrcOther = 3
)

// Document is one paper. All per-author slices (Authors, Affils, OrcidIDs,
// OrcidIDSrc) have equal length.
type Document struct {
	Bibcode       string
	Title         string
	Authors       []string
	Affils        []string
	Doctype       string
	Keywords      []string
	Publication   string
	Pubdate       string
	CitationCount int
	ReadCount     int
	OrcidIDs      []string
	OrcidIDSrc    []int
	Timestamp     int64
}

// NewDocument returns a Document timestamped now.
func NewDocument(bibcode string) *Document {
	return &Document{Bibcode: bibcode, Timestamp: time.Now().Unix()}
}

// DeleteAuthor removes author slot i from every per-author list.
func (d *Document) DeleteAuthor(i int) {
	d.Authors = append(d.Authors[:i], d.Authors[i+1:]...)
	d.Affils = append(d.Affils[:i], d.Affils[i+1:]...)
	d.OrcidIDs = append(d.OrcidIDs[:i], d.OrcidIDs[i+1:]...)
	d.OrcidIDSrc = append(d.OrcidIDSrc[:i], d.OrcidIDSrc[i+1:]...)
}

// Copy returns a deep copy.
func (d *Document) Copy() *Document {
	c := *d
	c.Authors = append([]string(nil), d.Authors...)
	c.Affils = append([]string(nil), d.Affils...)
	c.Keywords = append([]string(nil), d.Keywords...)
	c.OrcidIDs = append([]string(nil), d.OrcidIDs...)
	c.OrcidIDSrc = append([]int(nil), d.OrcidIDSrc...)
	return &c
}

// CompressedDocument is the Document wire form. Trailing empty affiliation
// and ORCID slots are dropped, and the ORCID source list is flattened to a
// comma-joined string so it stores as one short value.
type CompressedDocument struct {
	Bibcode       string   `json:"bibcode"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Affils        []string `json:"affils"`
	Doctype       string   `json:"doctype"`
	Keywords      []string `json:"keywords"`
	Publication   string   `json:"publication"`
	Pubdate       string   `json:"pubdate"`
	CitationCount int      `json:"citation_count"`
	ReadCount     int      `json:"read_count"`
	OrcidIDs      []string `json:"orcid_ids"`
	OrcidIDSrc    string   `json:"orcid_id_src"`
	Timestamp     int64    `json:"timestamp"`
	Version       int      `json:"version"`
}

// lastNonEmpty returns one past the index of the last non-empty element.
func lastNonEmpty(xs []string) int {
	for i := len(xs) - 1; i >= 0; i-- {
		if xs[i] != "" {
			return i + 1
		}
	}
	return 0
}

// Compress converts d to its wire form. d is not modified.
func (d *Document) Compress() *CompressedDocument {
	affils := d.Affils[:lastNonEmpty(d.Affils)]
	cut := lastNonEmpty(d.OrcidIDs)
	orcidIDs := d.OrcidIDs[:cut]
	srcs := make([]string, 0, cut)
	for _, s := range d.OrcidIDSrc[:min(cut, len(d.OrcidIDSrc))] {
		srcs = append(srcs, strconv.Itoa(s))
	}
	return &CompressedDocument{
		Bibcode:       d.Bibcode,
		Title:         d.Title,
		Authors:       append([]string(nil), d.Authors...),
		Affils:        append([]string(nil), affils...),
		Doctype:       d.Doctype,
		Keywords:      append([]string(nil), d.Keywords...),
		Publication:   d.Publication,
		Pubdate:       d.Pubdate,
		CitationCount: d.CitationCount,
		ReadCount:     d.ReadCount,
		OrcidIDs:      append([]string(nil), orcidIDs...),
		OrcidIDSrc:    strings.Join(srcs, ","),
		Timestamp:     d.Timestamp,
	}
}

// Decompress restores the full Document, padding the per-author lists back
// out to the author count.
func (c *CompressedDocument) Decompress() (*Document, error) {
	var srcs []int
	if c.OrcidIDSrc != "" {
		for _, part := range strings.Split(c.OrcidIDSrc, ",") {
			s, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("document %s: bad orcid_id_src %q: %w",
					c.Bibcode, c.OrcidIDSrc, err)
			}
			srcs = append(srcs, s)
		}
	}
	n := len(c.Authors)
	d := &Document{
		Bibcode:       c.Bibcode,
		Title:         c.Title,
		Authors:       append([]string(nil), c.Authors...),
		Affils:        padStrings(c.Affils, n),
		Doctype:       c.Doctype,
		Keywords:      append([]string(nil), c.Keywords...),
		Publication:   c.Publication,
		Pubdate:       c.Pubdate,
		CitationCount: c.CitationCount,
		ReadCount:     c.ReadCount,
		OrcidIDs:      padStrings(c.OrcidIDs, n),
		OrcidIDSrc:    padInts(srcs, n),
		Timestamp:     c.Timestamp,
	}
	return d, nil
}

func padStrings(xs []string, n int) []string {
	out := make([]string, n)
	copy(out, xs)
	return out
}

func padInts(xs []int, n int) []int {
	out := make([]int, n)
	copy(out, xs)
	return out
}
