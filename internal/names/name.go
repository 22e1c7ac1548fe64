// Package names models astronomer names as ADS represents them.
//
// An author can appear as "Lastname, First Middle", "Lastname, F. M.",
// "Lastname, F.", or just "Lastname", and one person commonly appears under
// several of these forms across publications. Name comparison therefore
// follows ADS's partial-name semantics: an initial matches any spelled-out
// given name it prefixes, and missing given names are unconstrained. The
// resulting equality relation is symmetric but not transitive, which is why
// this package also provides Dict and Set containers that accommodate it.
//
// User-supplied modifier prefixes tighten or loosen matching:
//
//	=Last, F    exact match only
//	<Last, F    match only less-specific forms
//	<=Last, F   match less-specific or equally-specific forms
//	>Last, F    match only more-specific forms
//	>=Last, F   match more-specific or equally-specific forms
//	@Last, F    disable synonym substitution
package names

import "strings"

// Modifiers are the matching flags parsed from a name's leading prefix.
// At most one of RequireExact / RequireMoreSpecific / RequireLessSpecific
// is set.
type Modifiers struct {
	RequireExact        bool
	RequireMoreSpecific bool
	RequireLessSpecific bool
	AllowSameSpecific   bool
	AllowSynonym        bool
}

// Prefix renders the canonical modifier prefix: one of
// "", "<", "<=", ">", ">=", "=", "@".
func (m Modifiers) Prefix() string {
	switch {
	case m.RequireExact:
		return "="
	case m.RequireLessSpecific && m.AllowSameSpecific:
		return "<="
	case m.RequireLessSpecific:
		return "<"
	case m.RequireMoreSpecific && m.AllowSameSpecific:
		return ">="
	case m.RequireMoreSpecific:
		return ">"
	case !m.AllowSynonym:
		return "@"
	}
	return ""
}

// HasSpecificity reports whether any exactness or specificity constraint
// is active.
func (m Modifiers) HasSpecificity() bool {
	return m.RequireExact || m.RequireMoreSpecific || m.RequireLessSpecific
}

// Name is a parsed, normalized author name. Names are created by
// NameSpace.Parse, which interns them: parsing the same input twice returns
// the same *Name. A Name is immutable after construction.
type Name struct {
	last     string
	given    []string // each token either a single letter (initial) or a word
	mods     Modifiers
	original string // the raw input, for display
	full     string // canonical "last, g1. g2." rendering, no prefix
	qualifed string // mods.Prefix() + full; the container hash key
	detail   int
	synonym  *Name // canonical form from the synonym table, or nil
	ns       *NameSpace
}

// Last returns the normalized last name.
func (n *Name) Last() string { return n.last }

// GivenNames returns the normalized given-name tokens. The slice must not
// be modified.
func (n *Name) GivenNames() []string { return n.given }

// Mods returns the name's modifier flags.
func (n *Name) Mods() Modifiers { return n.mods }

// OriginalName returns the raw input string the name was parsed from.
func (n *Name) OriginalName() string { return n.original }

// BareOriginalName returns the raw input with any modifier prefix removed.
func (n *Name) BareOriginalName() string {
	return strings.TrimLeft(n.original, modifierChars)
}

// FullName returns the canonical rendering without modifiers,
// e.g. "murray, s. stephen".
func (n *Name) FullName() string { return n.full }

// QualifiedFullName returns the canonical modifier prefix followed by the
// canonical rendering. This is the name's hash and equality key for
// container storage.
func (n *Name) QualifiedFullName() string { return n.qualifed }

func (n *Name) String() string { return n.qualifed }

// Synonym returns the canonical name this name maps to in the synonym
// table, or nil.
func (n *Name) Synonym() *Name { return n.synonym }

// LevelOfDetail scores how fully the given names are written out: 10 per
// spelled-out name, 3 per initial. Used for tie-breaks and most-specific
// alias selection.
func (n *Name) LevelOfDetail() int { return n.detail }

func renderFull(last string, given []string) string {
	var b strings.Builder
	b.WriteString(last)
	for i, g := range given {
		if i == 0 {
			b.WriteString(", ")
		} else {
			b.WriteString(" ")
		}
		b.WriteString(g)
		if len(g) == 1 {
			b.WriteString(".")
		}
	}
	return b.String()
}

func levelOfDetail(given []string) int {
	d := 0
	for _, g := range given {
		if len(g) == 1 {
			d += 3
		} else {
			d += 10
		}
	}
	return d
}

// consistentWith reports whether two given-name sequences do not contradict:
// at every position present in both, the tokens are equal or one is an
// initial that prefixes the other. Last names are compared by the caller.
func consistentGiven(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ta, tb := a[i], b[i]
		if ta == tb {
			continue
		}
		if len(ta) == 1 && strings.HasPrefix(tb, ta) {
			continue
		}
		if len(tb) == 1 && strings.HasPrefix(ta, tb) {
			continue
		}
		return false
	}
	return true
}

// IsMoreSpecificThan reports whether n is a strictly more detailed,
// consistent rendering of other: at least as many given names, no
// contradictions, and either extra given names or a spelled-out form where
// other has only the initial.
func (n *Name) IsMoreSpecificThan(other *Name) bool {
	if n.last != other.last {
		return false
	}
	if len(n.given) < len(other.given) {
		return false
	}
	if !consistentGiven(n.given, other.given) {
		return false
	}
	if len(n.given) > len(other.given) {
		return true
	}
	for i := range other.given {
		if len(n.given[i]) > 1 && len(other.given[i]) == 1 {
			return true
		}
	}
	return false
}

func givenExactlyEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// eqCore applies the modifier-aware equality rules without synonym
// substitution.
func eqCore(x, y *Name) bool {
	if x.mods.RequireExact || y.mods.RequireExact {
		return x.last == y.last && givenExactlyEqual(x.given, y.given)
	}
	if x.last != y.last {
		return false
	}
	if givenExactlyEqual(x.given, y.given) {
		return x.mods.AllowSameSpecific && y.mods.AllowSameSpecific
	}
	if !consistentGiven(x.given, y.given) {
		return false
	}
	ok := true
	if x.mods.RequireMoreSpecific || y.mods.RequireLessSpecific {
		ok = ok && y.IsMoreSpecificThan(x)
	}
	if x.mods.RequireLessSpecific || y.mods.RequireMoreSpecific {
		ok = ok && x.IsMoreSpecificThan(y)
	}
	return ok
}

// Equal reports whether two names match under ADS's partial-name semantics
// and both names' modifiers. The relation is symmetric but not transitive:
// Murray,S. == Murray,Stephen and Murray,Stephen == Murray,Stephen S., yet
// Murray,S. vs Murray,Stephen S. must still be checked directly. Results
// are memoized per qualified-name pair in the owning NameSpace.
func (n *Name) Equal(other *Name) bool {
	if other == nil {
		return false
	}
	if n == other {
		// Identical interned names still honor AllowSameSpecific.
		return n.mods.AllowSameSpecific || n.mods.RequireExact
	}
	ns := n.ns
	if ns == nil {
		ns = other.ns
	}
	if ns != nil {
		if eq, ok := ns.lookupEq(n.qualifed, other.qualifed); ok {
			return eq
		}
	}
	eq := eqCore(n, other)
	if !eq && n.mods.AllowSynonym && other.mods.AllowSynonym &&
		(n.synonym != nil || other.synonym != nil) {
		// Substitute each side's canonical form once; no recursion.
		sx, sy := n, other
		if n.synonym != nil {
			sx = n.synonym
		}
		if other.synonym != nil {
			sy = other.synonym
		}
		eq = eqCore(sx, sy)
	}
	if ns != nil {
		ns.storeEq(n.qualifed, other.qualifed, eq)
	}
	return eq
}
