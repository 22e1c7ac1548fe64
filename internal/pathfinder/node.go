package pathfinder

import (
	"sort"

	"github.com/svank/appa-backend/internal/names"
)

// unreachable is the distance of a node not yet reached from a given side.
const unreachable = int(^uint(0) >> 1)

// PathNode is one author in the search graph. Edges and links are directed:
// neighborsTowardSrc holds the nodes one step closer to the source, and
// linksTowardSrc maps each of those neighbors to the documents realizing
// the edge. After the final graph is produced, every surviving edge is
// recorded in both directions.
type PathNode struct {
	name                *names.Name
	distFromSrc         int
	distFromDest        int
	neighborsTowardSrc  map[*PathNode]struct{}
	neighborsTowardDest map[*PathNode]struct{}
	linksTowardSrc      map[*PathNode]map[string]struct{}
	linksTowardDest     map[*PathNode]map[string]struct{}

	// legalBibcodes restricts which documents may realize edges at this
	// node. Non-empty only for ORCID-seeded endpoints, where the id tells
	// us exactly which papers are the right person's.
	legalBibcodes map[string]struct{}
}

func newPathNode(name *names.Name) *PathNode {
	return &PathNode{
		name:                name,
		distFromSrc:         unreachable,
		distFromDest:        unreachable,
		neighborsTowardSrc:  make(map[*PathNode]struct{}),
		neighborsTowardDest: make(map[*PathNode]struct{}),
		linksTowardSrc:      make(map[*PathNode]map[string]struct{}),
		linksTowardDest:     make(map[*PathNode]map[string]struct{}),
	}
}

// Name returns the author name under which this node was first reached.
func (n *PathNode) Name() *names.Name { return n.name }

func (n *PathNode) DistFromSrc() int  { return n.distFromSrc }
func (n *PathNode) DistFromDest() int { return n.distFromDest }

func (n *PathNode) dist(fromSrc bool) int {
	if fromSrc {
		return n.distFromSrc
	}
	return n.distFromDest
}

func (n *PathNode) setDist(dist int, fromSrc bool) {
	if fromSrc {
		n.distFromSrc = dist
	} else {
		n.distFromDest = dist
	}
}

func (n *PathNode) neighbors(fromSrc bool) map[*PathNode]struct{} {
	if fromSrc {
		return n.neighborsTowardSrc
	}
	return n.neighborsTowardDest
}

func (n *PathNode) links(fromSrc bool) map[*PathNode]map[string]struct{} {
	if fromSrc {
		return n.linksTowardSrc
	}
	return n.linksTowardDest
}

func (n *PathNode) addLinks(fromSrc bool, toward *PathNode, bibcodes []string) {
	links := n.links(fromSrc)
	set := links[toward]
	if set == nil {
		set = make(map[string]struct{})
		links[toward] = set
	}
	for _, bibcode := range bibcodes {
		set[bibcode] = struct{}{}
	}
}

// NeighborsTowardSrc returns the neighbors one step closer to the source,
// sorted by name for deterministic traversal.
func (n *PathNode) NeighborsTowardSrc() []*PathNode {
	return sortedNodes(n.neighborsTowardSrc)
}

// NeighborsTowardDest returns the neighbors one step closer to the
// destination, sorted by name.
func (n *PathNode) NeighborsTowardDest() []*PathNode {
	return sortedNodes(n.neighborsTowardDest)
}

// LinksTowardSrc returns the sorted bibcodes realizing the edge from n to
// neighbor, where neighbor is one step closer to the source.
func (n *PathNode) LinksTowardSrc(neighbor *PathNode) []string {
	return sortedBibcodes(n.linksTowardSrc[neighbor])
}

// LinksTowardDest is the destination-side counterpart of LinksTowardSrc.
func (n *PathNode) LinksTowardDest(neighbor *PathNode) []string {
	return sortedBibcodes(n.linksTowardDest[neighbor])
}

func sortedNodes(set map[*PathNode]struct{}) []*PathNode {
	out := make([]*PathNode, 0, len(set))
	for node := range set {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].name.FullName() < out[j].name.FullName()
	})
	return out
}

func sortedBibcodes(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for bibcode := range set {
		out = append(out, bibcode)
	}
	sort.Strings(out)
	return out
}
