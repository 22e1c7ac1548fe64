// namespace.go holds the process-wide name state: the intern table, the
// equality memo, and the synonym table.
//
// All three are effectively global in normal operation, but they live
// behind a NameSpace value so tests can construct a fresh instance instead
// of resetting package state.

package names

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// NameSpace owns the intern table, the pairwise equality memo, and the
// synonym table. The zero value is not usable; call NewNameSpace.
// A NameSpace is safe for concurrent readers and parsers; LoadSynonyms
// must complete before names are parsed.
type NameSpace struct {
	mu       sync.RWMutex
	interned map[string]*Name // qualified full name -> Name
	eqMemo   map[string]bool  // "q1\x00q2" -> equality result
	synonyms *Dict[*Name]     // any listed form -> canonical form
}

// Default is the process-wide NameSpace used by the package-level Parse.
var Default = NewNameSpace()

// NewNameSpace returns an empty NameSpace with no synonyms loaded.
func NewNameSpace() *NameSpace {
	return &NameSpace{
		interned: make(map[string]*Name),
		eqMemo:   make(map[string]bool),
		synonyms: NewDict[*Name](),
	}
}

func (ns *NameSpace) intern(last string, given []string, mods Modifiers, original string) *Name {
	full := renderFull(last, given)
	qualified := mods.Prefix() + full

	ns.mu.RLock()
	n, ok := ns.interned[qualified]
	ns.mu.RUnlock()
	if ok {
		return n
	}

	n = &Name{
		last:     last,
		given:    given,
		mods:     mods,
		original: original,
		full:     full,
		qualifed: qualified,
		detail:   levelOfDetail(given),
		ns:       ns,
	}
	if mods.AllowSynonym {
		if canonical, ok := ns.synonyms.Get(n); ok && canonical != n {
			n.synonym = canonical
		}
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if existing, ok := ns.interned[qualified]; ok {
		return existing
	}
	ns.interned[qualified] = n
	return n
}

func (ns *NameSpace) lookupEq(q1, q2 string) (eq, ok bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	eq, ok = ns.eqMemo[q1+"\x00"+q2]
	return eq, ok
}

func (ns *NameSpace) storeEq(q1, q2 string, eq bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	// Equality is symmetric; memoize both orders.
	ns.eqMemo[q1+"\x00"+q2] = eq
	ns.eqMemo[q2+"\x00"+q1] = eq
}

// LoadSynonyms reads synonym files and registers every listed form. Each
// non-empty, non-# line contains ;-separated name strings naming one
// person. The most detailed name on a line is canonical (ties broken by
// longest rendering, then reverse-alphabetically); the others map to it.
func (ns *NameSpace) LoadSynonyms(paths ...string) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open synonym file: %w", err)
		}
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if err := ns.AddSynonymSet(line); err != nil {
				f.Close()
				return fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return fmt.Errorf("read synonym file %s: %w", path, err)
		}
		f.Close()
	}
	return nil
}

// AddSynonymSet registers one ;-separated synonym line.
func (ns *NameSpace) AddSynonymSet(line string) error {
	var set []*Name
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := ns.Parse(part)
		if err != nil {
			return err
		}
		set = append(set, n)
	}
	if len(set) < 2 {
		return fmt.Errorf("%w: synonym line needs at least two names", ErrInvalidName)
	}

	canonical := set[0]
	for _, n := range set[1:] {
		switch {
		case n.LevelOfDetail() != canonical.LevelOfDetail():
			if n.LevelOfDetail() > canonical.LevelOfDetail() {
				canonical = n
			}
		case len(n.FullName()) != len(canonical.FullName()):
			if len(n.FullName()) > len(canonical.FullName()) {
				canonical = n
			}
		case n.FullName() > canonical.FullName():
			canonical = n
		}
	}

	ns.mu.Lock()
	// New synonyms invalidate previously memoized comparisons.
	ns.eqMemo = make(map[string]bool)
	ns.mu.Unlock()

	for _, n := range set {
		if n == canonical {
			continue
		}
		ns.synonyms.Set(n, canonical)
		n.synonym = canonical
	}
	return nil
}
