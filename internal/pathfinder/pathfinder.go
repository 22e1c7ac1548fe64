// Package pathfinder runs a bidirectional breadth-first search over
// coauthorship records to find every shortest chain of coauthors linking
// two authors.
package pathfinder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/svank/appa-backend/internal/ads"
	"github.com/svank/appa-backend/internal/cache"
	"github.com/svank/appa-backend/internal/names"
	"github.com/svank/appa-backend/internal/repo"
	"github.com/svank/appa-backend/internal/stats"
)

// DefaultMaxIterations bounds the search. Each iteration expands one
// frontier, so chains longer than this many expansions are not found.
const DefaultMaxIterations = 9

// Error is a search failure the client can act on, as opposed to an
// infrastructure failure. Key is a stable identifier for the failure mode.
type Error struct {
	Key     string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Config carries the collaborators a PathFinder needs.
type Config struct {
	Repository *repo.Repository
	Names      *names.NameSpace
	Stats      *stats.Stats
	Log        *slog.Logger

	// MaxIterations overrides DefaultMaxIterations when positive.
	MaxIterations int
}

// seed is one endpoint of the search: either a parsed name or an ORCID iD
// to be resolved to a name once the search starts.
type seed struct {
	name    *names.Name
	orcidID string
}

// PathFinder searches for the chains linking one source author to one
// destination author. A PathFinder runs a single search; it is not safe
// for concurrent use.
type PathFinder struct {
	repo          *repo.Repository
	ns            *names.NameSpace
	stats         *stats.Stats
	log           *slog.Logger
	maxIterations int

	originalSrc  string
	originalDest string
	srcSeed      seed
	destSeed     seed

	excludedNames    *names.Set
	excludedBibcodes map[string]struct{}

	nodes       *names.Dict[*PathNode]
	src         *PathNode
	dest        *PathNode
	connecting  map[*PathNode]struct{}
	nIterations int
}

// New validates the endpoints and exclusions and prepares a search from
// src to dest. Endpoints may be author names, optionally carrying
// modifiers other than a bare "<" or ">", or ORCID iDs. Exclusions may be
// names or bibcodes. Validation failures are returned as *Error.
func New(cfg Config, src, dest string, exclusions []string) (*PathFinder, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	f := &PathFinder{
		repo:             cfg.Repository,
		ns:               cfg.Names,
		stats:            cfg.Stats,
		log:              cfg.Log,
		maxIterations:    maxIterations,
		originalSrc:      strings.TrimSpace(src),
		originalDest:     strings.TrimSpace(dest),
		excludedNames:    names.NewSet(),
		excludedBibcodes: make(map[string]struct{}),
		nodes:            names.NewDict[*PathNode](),
		connecting:       make(map[*PathNode]struct{}),
	}

	var err error
	if f.srcSeed, err = f.parseEndpoint(f.originalSrc, "src"); err != nil {
		return nil, err
	}
	if f.destSeed, err = f.parseEndpoint(f.originalDest, "dest"); err != nil {
		return nil, err
	}
	if f.srcSeed.name != nil && f.destSeed.name != nil &&
		f.srcSeed.name.Equal(f.destSeed.name) {
		return nil, &Error{Key: "src_is_dest",
			Message: "Source and destination are the same author"}
	}
	if f.srcSeed.orcidID != "" && f.srcSeed.orcidID == f.destSeed.orcidID {
		return nil, &Error{Key: "src_is_dest",
			Message: "Source and destination are the same author"}
	}

	for _, exclusion := range exclusions {
		exclusion = strings.TrimSpace(exclusion)
		if exclusion == "" {
			continue
		}
		if ads.IsBibcode(exclusion) {
			f.excludedBibcodes[exclusion] = struct{}{}
			continue
		}
		name, err := f.ns.Parse(exclusion)
		if err != nil {
			return nil, &Error{Key: "invalid_char_in_name",
				Message: fmt.Sprintf("'%s' is not a valid name or bibcode", exclusion)}
		}
		f.excludedNames.Add(name)
	}
	return f, nil
}

func (f *PathFinder) parseEndpoint(raw, side string) (seed, error) {
	if ads.IsOrcidID(raw) {
		return seed{orcidID: ads.NormalizeOrcidID(raw)}, nil
	}
	if !cache.KeyIsValid(raw) {
		return seed{}, &Error{Key: "invalid_char_in_name",
			Message: fmt.Sprintf("'%s' is not a valid name or ORCID iD", raw)}
	}
	name, err := f.ns.Parse(raw)
	if err != nil {
		return seed{}, &Error{Key: "invalid_char_in_name",
			Message: fmt.Sprintf("'%s' is not a valid name or ORCID iD", raw)}
	}
	mods := name.Mods()
	if (mods.RequireLessSpecific || mods.RequireMoreSpecific) && !mods.AllowSameSpecific {
		return seed{}, &Error{Key: side + "_invalid_lt_gt",
			Message: "The '<' and '>' modifiers cannot be applied to the endpoints"}
	}
	return seed{name: name}, nil
}

// OriginalSrc returns the source exactly as the caller supplied it.
func (f *PathFinder) OriginalSrc() string { return f.originalSrc }

// OriginalDest returns the destination exactly as the caller supplied it.
func (f *PathFinder) OriginalDest() string { return f.originalDest }

// Src returns the source node. Valid after FindPath succeeds.
func (f *PathFinder) Src() *PathNode { return f.src }

// Dest returns the destination node. Valid after FindPath succeeds.
func (f *PathFinder) Dest() *PathNode { return f.dest }

// ExcludedNames returns the name exclusions in force for this search.
func (f *PathFinder) ExcludedNames() *names.Set { return f.excludedNames }

// Distance returns the length of the shortest chain, counted in
// coauthorship steps. Valid after FindPath succeeds.
func (f *PathFinder) Distance() int { return f.dest.distFromSrc }

// NodeCount returns the number of authors on at least one shortest chain.
// Valid after FindPath succeeds.
func (f *PathFinder) NodeCount() int { return f.nodes.Len() }

// Node returns the graph node for name, if the author lies on a shortest
// chain. Valid after FindPath succeeds.
func (f *PathFinder) Node(name *names.Name) (*PathNode, bool) {
	return f.nodes.Get(name)
}

// Nodes returns every author on at least one shortest chain. Valid after
// FindPath succeeds.
func (f *PathFinder) Nodes() []*PathNode { return f.nodes.Values() }

// FindPath runs the search. On success the graph of every shortest chain
// is reachable through Src and Dest. Search failures are returned as
// *Error; repository and ADS failures pass through unchanged.
func (f *PathFinder) FindPath(ctx context.Context) error {
	f.stats.OnStartPathFinding(ctx)
	if f.srcSeed.name != nil && f.destSeed.name != nil {
		err := f.repo.NotifyOfUpcomingAuthorRequest(ctx, f.srcSeed.name, f.destSeed.name)
		if err != nil {
			f.log.Warn("endpoint prefetch notification failed", "error", err)
		}
	}

	srcName, srcDocs, srcLegal, err := f.resolveSeed(ctx, f.srcSeed)
	if err != nil {
		return err
	}
	destName, destDocs, destLegal, err := f.resolveSeed(ctx, f.destSeed)
	if err != nil {
		return err
	}
	if (f.srcSeed.orcidID != "" || f.destSeed.orcidID != "") && srcName.Equal(destName) {
		return &Error{Key: "src_is_dest_after_orcid",
			Message: "Source and destination resolve to the same author"}
	}
	if !f.anyUsableDocs(srcDocs) {
		return &Error{Key: "src_empty",
			Message: fmt.Sprintf("No documents found for '%s'", f.originalSrc)}
	}
	if !f.anyUsableDocs(destDocs) {
		return &Error{Key: "dest_empty",
			Message: fmt.Sprintf("No documents found for '%s'", f.originalDest)}
	}

	f.src = newPathNode(srcName)
	f.src.distFromSrc = 0
	f.src.legalBibcodes = srcLegal
	f.nodes.Set(srcName, f.src)
	f.dest = newPathNode(destName)
	f.dest.distFromDest = 0
	f.dest.legalBibcodes = destLegal
	f.nodes.Set(destName, f.dest)

	expandingFromSrc := true
	authors := []*names.Name{srcName}
	var srcNext []*names.Name
	destNext := []*names.Name{destName}
	for {
		next := &srcNext
		if !expandingFromSrc {
			next = &destNext
		}
		for _, author := range authors {
			if err := f.expandAuthor(ctx, author, expandingFromSrc, next); err != nil {
				return err
			}
		}
		f.nIterations++
		if len(f.connecting) > 0 {
			break
		}
		if f.nIterations >= f.maxIterations {
			return &Error{Key: "too_far",
				Message: fmt.Sprintf("No chain found within %d steps", f.maxIterations)}
		}
		if len(srcNext) == 0 || len(destNext) == 0 {
			return &Error{Key: "no_authors_to_expand",
				Message: fmt.Sprintf("No connections possible after %d iterations", f.nIterations)}
		}
		// Expand whichever side has the smaller frontier.
		if len(srcNext) < len(destNext) {
			authors, srcNext = srcNext, nil
			expandingFromSrc = true
		} else {
			authors, destNext = destNext, nil
			expandingFromSrc = false
		}
	}
	f.produceFinalGraph()
	f.stats.OnStopPathFinding(ctx)
	return nil
}

// resolveSeed turns a seed into a concrete name and its document list. For
// ORCID seeds the record's documents also become the node's legal bibcode
// set, since only those papers are confirmed to be the right person's.
func (f *PathFinder) resolveSeed(ctx context.Context, s seed) (*names.Name, []string, map[string]struct{}, error) {
	if s.orcidID == "" {
		rec, err := f.repo.GetAuthorRecord(ctx, s.name)
		if err != nil {
			return nil, nil, nil, err
		}
		return s.name, rec.Documents, nil, nil
	}
	rec, err := f.repo.GetAuthorRecordByOrcidID(ctx, s.orcidID)
	if err != nil {
		return nil, nil, nil, err
	}
	legal := make(map[string]struct{}, len(rec.Documents))
	for _, bibcode := range rec.Documents {
		legal[bibcode] = struct{}{}
	}
	return rec.Name, rec.Documents, legal, nil
}

func (f *PathFinder) anyUsableDocs(documents []string) bool {
	for _, bibcode := range documents {
		if _, excluded := f.excludedBibcodes[bibcode]; !excluded {
			return true
		}
	}
	return false
}

func (f *PathFinder) expandAuthor(ctx context.Context, author *names.Name, fromSrc bool, next *[]*names.Name) error {
	f.log.Debug("expanding author", "author", author.String(), "fromSrc", fromSrc)
	expandNode, ok := f.nodes.Get(author)
	if !ok {
		return fmt.Errorf("author %s queued for expansion but not in graph", author)
	}
	expandDist := expandNode.dist(fromSrc)

	rec, err := f.repo.GetAuthorRecord(ctx, author)
	if err != nil {
		return err
	}
	f.stats.OnCoauthorsConsidered(ctx, len(rec.Coauthors))

	// If "<Last, F." is excluded and this author was reached as
	// "Last, First", papers published under "Last, F." are still off
	// limits. Collect the papers published under a non-excluded form.
	okBibcodes := make(map[string]struct{})
	for alias, bibcodes := range rec.AppearsAs {
		aliasName, err := f.ns.Parse(alias)
		if err != nil || f.excludedNames.Contains(aliasName) {
			continue
		}
		for _, bibcode := range bibcodes {
			if _, excluded := f.excludedBibcodes[bibcode]; !excluded {
				okBibcodes[bibcode] = struct{}{}
			}
		}
	}
	if len(expandNode.legalBibcodes) > 0 {
		for bibcode := range okBibcodes {
			if _, ok := expandNode.legalBibcodes[bibcode]; !ok {
				delete(okBibcodes, bibcode)
			}
		}
	}

	for coauthorString, shared := range rec.Coauthors {
		var bibcodes []string
		for _, bibcode := range shared {
			if _, ok := okBibcodes[bibcode]; ok {
				bibcodes = append(bibcodes, bibcode)
			}
		}
		if len(bibcodes) == 0 {
			continue
		}
		coauthor, err := f.ns.Parse(coauthorString)
		if err != nil {
			continue
		}
		if f.excludedNames.Contains(coauthor) {
			continue
		}

		node, ok := f.nodes.Get(coauthor)
		if !ok {
			node = newPathNode(coauthor)
			node.setDist(expandDist+1, fromSrc)
			node.neighbors(fromSrc)[expandNode] = struct{}{}
			f.nodes.Set(coauthor, node)
			*next = append(*next, coauthor)
			if err := f.repo.NotifyOfUpcomingAuthorRequest(ctx, coauthor); err != nil {
				f.log.Warn("prefetch notification failed",
					"author", coauthor.String(), "error", err)
			}
		} else {
			if len(node.legalBibcodes) > 0 {
				bibcodes = filterToSet(bibcodes, node.legalBibcodes)
				if len(bibcodes) == 0 {
					continue
				}
			}
			switch {
			case node.dist(fromSrc) <= expandDist:
				// Reached in an earlier ring; not a forward step.
			case node.dist(fromSrc) > expandDist+1:
				node.setDist(expandDist+1, fromSrc)
				node.neighbors(fromSrc)[expandNode] = struct{}{}
			}
			if f.nodeConnects(node, fromSrc) {
				f.connecting[node] = struct{}{}
			}
		}
		if node.dist(fromSrc) == expandDist+1 {
			node.addLinks(fromSrc, expandNode, bibcodes)
		}
	}
	return nil
}

func filterToSet(bibcodes []string, allowed map[string]struct{}) []string {
	out := bibcodes[:0]
	for _, bibcode := range bibcodes {
		if _, ok := allowed[bibcode]; ok {
			out = append(out, bibcode)
		}
	}
	return out
}

func (f *PathFinder) nodeConnects(node *PathNode, fromSrc bool) bool {
	if len(node.neighborsTowardSrc) > 0 && len(node.neighborsTowardDest) > 0 {
		return true
	}
	if fromSrc && node == f.dest {
		return true
	}
	if !fromSrc && node == f.src {
		return true
	}
	return false
}

// produceFinalGraph reduces the search graph to the union of all shortest
// chains, with every surviving edge recorded in both directions.
func (f *PathFinder) produceFinalGraph() {
	// Walk outward from the connecting nodes, mirroring each edge and its
	// links so both endpoints know about it.
	toWalk := make([]*PathNode, 0, len(f.connecting))
	for node := range f.connecting {
		toWalk = append(toWalk, node)
	}
	visited := make(map[string]struct{})
	for len(toWalk) > 0 {
		node := toWalk[len(toWalk)-1]
		toWalk = toWalk[:len(toWalk)-1]
		key := node.name.String()
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		for neighbor := range node.neighborsTowardSrc {
			if _, seen := visited[neighbor.name.String()]; !seen {
				toWalk = append(toWalk, neighbor)
			}
			neighbor.neighborsTowardDest[node] = struct{}{}
			if d := bump(node.distFromDest); d < neighbor.distFromDest {
				neighbor.distFromDest = d
			}
			neighbor.linksTowardDest[node] = node.linksTowardSrc[neighbor]
		}
		for neighbor := range node.neighborsTowardDest {
			if _, seen := visited[neighbor.name.String()]; !seen {
				toWalk = append(toWalk, neighbor)
			}
			neighbor.neighborsTowardSrc[node] = struct{}{}
			if d := bump(node.distFromSrc); d < neighbor.distFromSrc {
				neighbor.distFromSrc = d
			}
			neighbor.linksTowardSrc[node] = node.linksTowardDest[neighbor]
		}
	}

	// Drop every edge that is not part of a shortest chain.
	toWalk = append(toWalk, f.src)
	for len(toWalk) > 0 {
		node := toWalk[len(toWalk)-1]
		toWalk = toWalk[:len(toWalk)-1]
		for neighbor := range node.neighborsTowardDest {
			if neighbor.distFromSrc != node.distFromSrc+1 {
				delete(node.neighborsTowardDest, neighbor)
				delete(node.linksTowardDest, neighbor)
				delete(neighbor.neighborsTowardSrc, node)
				delete(neighbor.linksTowardSrc, node)
			} else {
				toWalk = append(toWalk, neighbor)
			}
		}
		for neighbor := range node.neighborsTowardSrc {
			if neighbor.distFromDest != node.distFromDest+1 {
				delete(node.neighborsTowardSrc, neighbor)
				delete(node.linksTowardSrc, neighbor)
				delete(neighbor.neighborsTowardDest, node)
				delete(neighbor.linksTowardDest, node)
			}
		}
	}

	// Drop nodes that ended up off every surviving chain.
	for _, node := range f.nodes.Values() {
		if node == f.src || node == f.dest {
			continue
		}
		if len(node.neighborsTowardSrc) == 0 || len(node.neighborsTowardDest) == 0 {
			f.nodes.Delete(node.name)
		}
	}
}

func bump(dist int) int {
	if dist >= unreachable {
		return unreachable
	}
	return dist + 1
}
