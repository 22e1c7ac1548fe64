// Package ranker orders the chains found by the path finder. Any one author
// node may cover several people publishing under the same name, so each
// realization of a chain is scored by how confident we are that the same
// person wrote both linking papers at every step.
package ranker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/pathfinder"
	"github.com/svank/appa-backend/internal/record"
	"github.com/svank/appa-backend/internal/repo"
	"github.com/svank/appa-backend/internal/stats"
)

// Connection realizes one chain link with a concrete paper: the bibcode,
// plus where in the paper's author list the two linked authors appear. An
// index is -1 when every matching form of the name is excluded.
type Connection struct {
	Bibcode string
	Idx1    int
	Idx2    int
}

// MarshalJSON renders the [bibcode, idx1, idx2] triple the result payload
// carries. Missing indices render as null.
func (c Connection) MarshalJSON() ([]byte, error) {
	idx := func(i int) any {
		if i < 0 {
			return nil
		}
		return i
	}
	return json.Marshal([3]any{c.Bibcode, idx(c.Idx1), idx(c.Idx2)})
}

// UnmarshalJSON reads the triple form back, mapping null indices to -1.
func (c *Connection) UnmarshalJSON(data []byte) error {
	var parts [3]json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &c.Bibcode); err != nil {
		return err
	}
	c.Idx1, c.Idx2 = -1, -1
	for i, dst := range []*int{&c.Idx1, &c.Idx2} {
		if string(parts[i+1]) == "null" {
			continue
		}
		if err := json.Unmarshal(parts[i+1], dst); err != nil {
			return err
		}
	}
	return nil
}

// ScoredChain is one author chain with its best confidence score and its
// paper choices, one Connection per link, ordered best first.
type ScoredChain struct {
	Score        float64
	Authors      []string
	PaperChoices [][]Connection
}

// DocData is the client-facing slice of a document, keyed by bibcode in
// the result payload.
type DocData struct {
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
	OrcidIDSrc    []int    `json:"orcid_id_src"`
}

type linkKey struct {
	bibcode1 string
	idx1     int
	bibcode2 string
	idx2     int
}

type linkScore struct {
	score float64
	valid bool
}

// Weights are the chain-scoring constants: the share of the score carried
// by affiliation overlap, the share carried by name detail, and the
// per-provenance-level reduction applied to ORCID id matches.
type Weights struct {
	Affil     float64
	Detail    float64
	OrcidStep float64
}

// DefaultWeights returns the standard scoring constants.
func DefaultWeights() Weights {
	return Weights{Affil: 0.3, Detail: 0.1, OrcidStep: 0.08}
}

// Ranker scores and orders chains. A Ranker serves a single search; it
// memoizes per-search link scores and affiliation parsing.
type Ranker struct {
	repo    *repo.Repository
	ns      *names.NameSpace
	stats   *stats.Stats
	log     *slog.Logger
	weights Weights

	linkScores  map[linkKey]linkScore
	affilChunks map[string][]string
}

// New returns a Ranker for one search, scoring with DefaultWeights.
func New(r *repo.Repository, ns *names.NameSpace, st *stats.Stats, log *slog.Logger) *Ranker {
	if log == nil {
		log = slog.Default()
	}
	return &Ranker{
		repo:        r,
		ns:          ns,
		stats:       st,
		log:         log,
		weights:     DefaultWeights(),
		linkScores:  make(map[linkKey]linkScore),
		affilChunks: make(map[string][]string),
	}
}

// SetWeights replaces the scoring constants. Call before scoring; memoized
// link scores are not recomputed.
func (r *Ranker) SetWeights(w Weights) {
	r.weights = w
}

// ProcessPathFinder ranks every chain in pf's final graph, best first, and
// returns the document data the chains reference. pf must have completed
// successfully. When every realization of every chain is invalidated by
// mismatched identities, a *pathfinder.Error with key "no_valid_chains" is
// returned.
func (r *Ranker) ProcessPathFinder(ctx context.Context, pf *pathfinder.PathFinder) ([]ScoredChain, map[string]*DocData, error) {
	pairings := make(map[string]map[string][]string)
	allBibcodes := make(map[string]struct{})
	r.collectBibcodes(pf.Src(), pairings, allBibcodes)

	r.stats.SetDocsRelevant(ctx, len(allBibcodes))
	bibcodes := make([]string, 0, len(allBibcodes))
	for bibcode := range allBibcodes {
		bibcodes = append(bibcodes, bibcode)
	}
	r.repo.NotifyOfUpcomingDocumentRequest(ctx, bibcodes...)

	docData := make(map[string]*DocData)
	connections, err := r.insertDocumentData(ctx, pairings, docData, pf.ExcludedNames())
	if err != nil {
		return nil, nil, err
	}
	r.stats.FlushProgress(ctx)

	chains := buildAuthorChains(pf.Src())
	scored, err := r.rankAuthorChains(ctx, chains, connections)
	if err != nil {
		return nil, nil, err
	}
	if scored == nil {
		return nil, nil, &pathfinder.Error{
			Key: "no_valid_chains",
			Message: fmt.Sprintf(
				"Every chain from %s to %s was ruled out by identity checks",
				pf.OriginalSrc(), pf.OriginalDest()),
		}
	}
	return scored, docData, nil
}

// collectBibcodes walks the final graph from node toward the destination,
// recording the sorted bibcodes realizing each author pairing.
func (r *Ranker) collectBibcodes(node *pathfinder.PathNode, pairings map[string]map[string][]string, all map[string]struct{}) {
	name := node.Name().BareOriginalName()
	for _, neighbor := range node.NeighborsTowardDest() {
		bibcodes := node.LinksTowardDest(neighbor)
		for _, bibcode := range bibcodes {
			all[bibcode] = struct{}{}
		}
		if pairings[name] == nil {
			pairings[name] = make(map[string][]string)
		}
		pairings[name][neighbor.Name().BareOriginalName()] = bibcodes
		r.collectBibcodes(neighbor, pairings, all)
	}
}

// insertDocumentData loads every referenced document and locates each
// pairing's authors in the documents' author lists, skipping excluded name
// forms.
func (r *Ranker) insertDocumentData(ctx context.Context, pairings map[string]map[string][]string, docData map[string]*DocData, excluded *names.Set) (map[string]map[string][]Connection, error) {
	out := make(map[string]map[string][]Connection, len(pairings))
	for k1, inner := range pairings {
		author1, err := r.ns.Parse(k1)
		if err != nil {
			return nil, err
		}
		out[k1] = make(map[string][]Connection, len(inner))
		for k2, bibcodes := range inner {
			author2, err := r.ns.Parse(k2)
			if err != nil {
				return nil, err
			}
			connections := make([]Connection, 0, len(bibcodes))
			for _, bibcode := range bibcodes {
				data, ok := docData[bibcode]
				if !ok {
					doc, err := r.repo.GetDocument(ctx, bibcode)
					if err != nil {
						return nil, err
					}
					r.stats.OnDocsLoaded(ctx, 1)
					data = docDataFrom(doc)
					docData[bibcode] = data
				}

				idx1, idx2 := -1, -1
				for i, author := range data.Authors {
					parsed, err := r.ns.Parse(author)
					if err != nil {
						continue
					}
					if excluded.Contains(parsed) {
						continue
					}
					if idx1 < 0 && author1.Equal(parsed) {
						idx1 = i
					}
					if idx2 < 0 && author2.Equal(parsed) {
						idx2 = i
					}
					if idx1 >= 0 && idx2 >= 0 {
						break
					}
				}
				connections = append(connections, Connection{bibcode, idx1, idx2})
			}
			out[k1][k2] = connections
		}
	}
	return out, nil
}

func docDataFrom(doc *record.Document) *DocData {
	return &DocData{
		Title:         doc.Title,
		Authors:       doc.Authors,
		Affils:        doc.Affils,
		Doctype:       doc.Doctype,
		Keywords:      doc.Keywords,
		Publication:   doc.Publication,
		Pubdate:       doc.Pubdate,
		CitationCount: doc.CitationCount,
		ReadCount:     doc.ReadCount,
		OrcidIDs:      doc.OrcidIDs,
		OrcidIDSrc:    doc.OrcidIDSrc,
	}
}

// buildAuthorChains enumerates every root-to-leaf author sequence in the
// final graph, as bare original names.
func buildAuthorChains(src *pathfinder.PathNode) [][]string {
	var chains [][]string
	var walk func(prefix []string, node *pathfinder.PathNode)
	walk = func(prefix []string, node *pathfinder.PathNode) {
		chain := make([]string, len(prefix), len(prefix)+1)
		copy(chain, prefix)
		chain = append(chain, node.Name().BareOriginalName())
		neighbors := node.NeighborsTowardDest()
		if len(neighbors) == 0 {
			chains = append(chains, chain)
			return
		}
		for _, neighbor := range neighbors {
			walk(chain, neighbor)
		}
	}
	walk(nil, src)
	return chains
}

type realization struct {
	score  float64
	choice []Connection
	titles []string
}

// scoreAuthorChain scores every realization of chain. Results come back
// best first. Both returns are nil when no realization is valid.
func (r *Ranker) scoreAuthorChain(ctx context.Context, chain []string, connections map[string]map[string][]Connection) ([]float64, [][]Connection, error) {
	connectionLists := make([][]Connection, 0, len(chain)-1)
	for i := 0; i+1 < len(chain); i++ {
		list := connections[chain[i]][chain[i+1]]
		if len(list) == 0 {
			return nil, nil, nil
		}
		connectionLists = append(connectionLists, list)
	}

	var items []realization
	choice := make([]int, len(connectionLists))
	for {
		score := 0.0
		valid := true
		current := make([]Connection, len(connectionLists))
		for i, list := range connectionLists {
			current[i] = list[choice[i]]
		}
		for i := 0; i+1 < len(current); i++ {
			addition, ok, err := r.scoreLink(ctx, current[i], current[i+1])
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				valid = false
				break
			}
			score += addition
		}
		if valid {
			items = append(items, realization{score: score, choice: current})
		}
		if !advance(choice, connectionLists) {
			break
		}
	}
	if len(items) == 0 {
		return nil, nil, nil
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})
	scores := make([]float64, len(items))
	choices := make([][]Connection, len(items))
	for i, item := range items {
		scores[i] = item.score
		choices[i] = item.choice
	}
	return scores, choices, nil
}

// advance steps the odometer over the cartesian product of choices.
func advance(choice []int, lists [][]Connection) bool {
	for i := len(choice) - 1; i >= 0; i-- {
		choice[i]++
		if choice[i] < len(lists[i]) {
			return true
		}
		choice[i] = 0
	}
	return false
}

func (r *Ranker) rankAuthorChains(ctx context.Context, chains [][]string, connections map[string]map[string][]Connection) ([]ScoredChain, error) {
	var items []ScoredChain
	for _, chain := range chains {
		scores, choices, err := r.scoreAuthorChain(ctx, chain, connections)
		if err != nil {
			return nil, err
		}
		if scores == nil {
			continue
		}
		// Re-sort realizations so ties break alphabetically by the titles
		// of the linking papers. That must happen before names are
		// normalized, since the top realization decides the displayed
		// names.
		realizations := make([]realization, len(scores))
		for i := range scores {
			titles := make([]string, len(choices[i]))
			for j, con := range choices[i] {
				doc, err := r.repo.GetDocument(ctx, con.Bibcode)
				if err != nil {
					return nil, err
				}
				titles[j] = doc.Title
			}
			realizations[i] = realization{
				score:  scores[i],
				choice: choices[i],
				titles: titles,
			}
		}
		sort.SliceStable(realizations, func(i, j int) bool {
			a, b := realizations[i], realizations[j]
			if a.score != b.score {
				return a.score > b.score
			}
			if c := compareStrings(a.titles, b.titles); c != 0 {
				return c < 0
			}
			return compareConnections(a.choice, b.choice) < 0
		})

		authors, err := r.normalizeAuthorNames(ctx, realizations[0].choice)
		if err != nil {
			return nil, err
		}
		sortedChoices := make([][]Connection, len(realizations))
		for i, re := range realizations {
			sortedChoices[i] = re.choice
		}
		items = append(items, ScoredChain{
			Score:        realizations[0].score,
			Authors:      authors,
			PaperChoices: sortedChoices,
		})
	}

	if len(items) == 0 {
		return nil, nil
	}
	if len(items) != len(chains) {
		r.log.Warn("some chains were invalidated by identity checks",
			"invalidated", len(chains)-len(items), "total", len(chains))
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return compareStrings(items[i].Authors, items[j].Authors) < 0
	})
	return items, nil
}

func compareStrings(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func compareConnections(a, b []Connection) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i].Bibcode != b[i].Bibcode:
			if a[i].Bibcode < b[i].Bibcode {
				return -1
			}
			return 1
		case a[i].Idx1 != b[i].Idx1:
			return a[i].Idx1 - b[i].Idx1
		case a[i].Idx2 != b[i].Idx2:
			return a[i].Idx2 - b[i].Idx2
		}
	}
	return len(a) - len(b)
}

// normalizeAuthorNames rebuilds a chain with names as printed in the top
// paper choice for each link. Interior authors appear on two papers; the
// less specific of the two printed forms is shown.
func (r *Ranker) normalizeAuthorNames(ctx context.Context, choice []Connection) ([]string, error) {
	var chain []string
	for i, con := range choice {
		doc, err := r.repo.GetDocument(ctx, con.Bibcode)
		if err != nil {
			return nil, err
		}
		name1 := doc.Authors[con.Idx1]
		name2 := doc.Authors[con.Idx2]
		if i == 0 {
			chain = append(chain, name1)
		} else if r.detailOf(name1) < r.detailOf(chain[len(chain)-1]) {
			chain[len(chain)-1] = name1
		}
		chain = append(chain, name2)
	}
	return chain, nil
}

func (r *Ranker) detailOf(author string) int {
	name, err := r.ns.Parse(author)
	if err != nil {
		return 0
	}
	return name.LevelOfDetail()
}

// scoreLink scores the confidence that the same person is the shared
// author of con1's and con2's papers. When both papers carry an ORCID id
// for the author, the ids alone decide: a mismatch invalidates the
// realization, and a match scores 0.7 to 1 depending on how ADS sourced
// each id. Otherwise the score combines affiliation overlap (up to 0.3)
// and how fully the name is spelled out (up to 0.1).
func (r *Ranker) scoreLink(ctx context.Context, con1, con2 Connection) (float64, bool, error) {
	key := linkKey{con1.Bibcode, con1.Idx2, con2.Bibcode, con2.Idx1}
	if cached, ok := r.linkScores[key]; ok {
		return cached.score, cached.valid, nil
	}
	score, valid, err := r.scoreLinkUncached(ctx, con1, con2)
	if err != nil {
		return 0, false, err
	}
	r.linkScores[key] = linkScore{score: score, valid: valid}
	return score, valid, nil
}

func (r *Ranker) scoreLinkUncached(ctx context.Context, con1, con2 Connection) (float64, bool, error) {
	idx1 := con1.Idx2
	idx2 := con2.Idx1
	if idx1 < 0 || idx2 < 0 {
		return 0, false, nil
	}
	doc1, err := r.repo.GetDocument(ctx, con1.Bibcode)
	if err != nil {
		return 0, false, err
	}
	doc2, err := r.repo.GetDocument(ctx, con2.Bibcode)
	if err != nil {
		return 0, false, err
	}

	orcid1 := doc1.OrcidIDs[idx1]
	orcid2 := doc2.OrcidIDs[idx2]
	if orcid1 != "" && orcid2 != "" {
		if orcid1 != orcid2 {
			return 0, false, nil
		}
		// Score by id provenance: 1 for orcid_pub, then one step down each
		// for orcid_user and orcid_other, multiplied across the two papers.
		score1 := 1 - r.weights.OrcidStep*float64(doc1.OrcidIDSrc[idx1]-1)
		score2 := 1 - r.weights.OrcidStep*float64(doc2.OrcidIDSrc[idx2]-1)
		return score1 * score2, true, nil
	}

	affil1 := r.processAffil(doc1.Affils[idx1])
	affil2 := r.processAffil(doc2.Affils[idx2])
	var oneInTwo, twoInOne float64
	if len(affil1) > 0 && len(affil2) > 0 {
		oneInTwo = float64(countIn(affil1, affil2)) / float64(len(affil1))
		twoInOne = float64(countIn(affil2, affil1)) / float64(len(affil2))
	}
	affilScore := (oneInTwo + twoInOne) / 2 * r.weights.Affil

	name1, err1 := r.ns.Parse(doc1.Authors[idx1])
	name2, err2 := r.ns.Parse(doc2.Authors[idx2])
	if err1 != nil || err2 != nil {
		return 0, false, nil
	}
	if !name1.Equal(name2) {
		// Happens when one node covers several people: "Doe, J." seeded
		// the node, then Jane and John Doe both attached to it, and this
		// realization runs from Jane's paper to John's.
		return 0, false, nil
	}
	detail := name1.LevelOfDetail()
	if d := name2.LevelOfDetail(); d < detail {
		detail = d
	}
	detailScore := float64(detail) / 20 * r.weights.Detail

	return affilScore + detailScore, true, nil
}

func countIn(chunks, other []string) int {
	count := 0
	for _, chunk := range chunks {
		for _, o := range other {
			if chunk == o {
				count++
				break
			}
		}
	}
	return count
}

var affilWordsToRemove = map[string]struct{}{
	"the": {}, "of": {}, "a": {}, "an": {}, "and": {}, "&": {},
}

var affilWordsToReplace = map[string]string{
	"inst": "institute",
	"u":    "university",
	"uni":  "university",
	"univ": "university",
}

// processAffil normalizes an affiliation string into comparable chunks:
// lowercase, punctuation and digits stripped, separators collapsed to
// commas, filler words dropped and common abbreviations expanded.
func (r *Ranker) processAffil(affil string) []string {
	if chunks, ok := r.affilChunks[affil]; ok {
		return chunks
	}
	lowered := strings.ToLower(affil)
	lowered = strings.ReplaceAll(lowered, " at ", ",")

	var b strings.Builder
	for _, c := range lowered {
		switch {
		case c == '.' || c == ':' || c == '-':
		case c >= '0' && c <= '9':
		case c == '|' || c == ';' || c == '@' || c == '/' ||
			c == '–' || c == '—' || c == '―':
			b.WriteRune(',')
		case unicode.IsPrint(c):
			b.WriteRune(c)
		}
	}

	var processed []string
	for _, chunk := range strings.Split(b.String(), ",") {
		var words []string
		for _, word := range strings.Fields(chunk) {
			if _, drop := affilWordsToRemove[word]; drop {
				continue
			}
			if full, ok := affilWordsToReplace[word]; ok {
				word = full
			}
			words = append(words, word)
		}
		if len(words) > 0 {
			processed = append(processed, strings.Join(words, " "))
		}
	}
	r.affilChunks[affil] = processed
	return processed
}
