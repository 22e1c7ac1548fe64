// parse.go normalizes raw author-name strings into Names.
//
// Normalization runs in a fixed order: strip one leading modifier prefix,
// translate hyphens and periods to spaces, split the last/given parts at the
// first comma, lowercase, transliterate to ASCII, drop anything that is not
// an ASCII letter or a single space, and collapse space runs. The order
// matters: "Gómez-Vargas, G." and "gomez vargas, g" must normalize to the
// same tuple.

package names

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidName indicates a name whose last name is empty after
// normalization, or that otherwise cannot be parsed.
var ErrInvalidName = errors.New("invalid name")

const modifierChars = "<>=@"

// asciiFold strips combining marks so that diacritics compare equal to
// their base letters (é -> e).
var asciiFold = transform.Chain(
	norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func parseModifiers(raw string) (Modifiers, string) {
	mods := Modifiers{AllowSameSpecific: true, AllowSynonym: true}
	var sawLT, sawGT, sawEQ bool
	i := 0
	for ; i < len(raw) && strings.ContainsRune(modifierChars, rune(raw[i])); i++ {
		switch raw[i] {
		case '<':
			sawLT = true
		case '>':
			sawGT = true
		case '=':
			sawEQ = true
		case '@':
			mods.AllowSynonym = false
		}
	}
	switch {
	case sawLT:
		mods.RequireLessSpecific = true
		mods.AllowSameSpecific = sawEQ
	case sawGT:
		mods.RequireMoreSpecific = true
		mods.AllowSameSpecific = sawEQ
	case sawEQ:
		mods.RequireExact = true
	}
	return mods, raw[i:]
}

// cleanPart lowercases, transliterates to ASCII, drops every character that
// is not an ASCII letter or space, and collapses space runs.
func cleanPart(s string) string {
	s = strings.ToLower(s)
	if folded, _, err := transform.String(asciiFold, s); err == nil {
		s = folded
	}
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Parse normalizes and interns a name in the default NameSpace. The input
// is either "Last" or "Last, Given1 Given2 ...", optionally preceded by
// modifier characters.
func Parse(raw string) (*Name, error) {
	return Default.Parse(raw)
}

// MustParse is Parse for inputs known to be valid, such as test fixtures
// and literals.
func MustParse(raw string) *Name {
	n, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return n
}

// Parse normalizes raw and returns the interned Name for it. A second
// parse of an equivalent input returns the same *Name.
func (ns *NameSpace) Parse(raw string) (*Name, error) {
	original := raw
	mods, rest := parseModifiers(strings.TrimSpace(raw))
	rest = strings.NewReplacer("-", " ", ".", " ").Replace(rest)

	lastPart, givenPart, _ := strings.Cut(rest, ",")
	last := cleanPart(lastPart)
	if last == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, original)
	}

	var given []string
	for _, tok := range strings.Fields(cleanPart(givenPart)) {
		given = append(given, tok)
	}

	return ns.intern(last, given, mods, original), nil
}

// ParseSeparate builds a name from a last name and given-name arguments,
// normalizing each part as Parse does.
func (ns *NameSpace) ParseSeparate(last string, given ...string) (*Name, error) {
	parts := append([]string{last + ","}, given...)
	return ns.Parse(strings.Join(parts, " "))
}

// ParsePreserved returns a display-only Name that keeps the input's case
// and punctuation, bypassing normalization and interning. Used when the UI
// needs original-case names (e.g. an ORCID id standing in for a name).
func (ns *NameSpace) ParsePreserved(raw string) *Name {
	return &Name{
		last:     raw,
		mods:     Modifiers{AllowSameSpecific: true, AllowSynonym: true},
		original: raw,
		full:     raw,
		qualifed: raw,
		ns:       ns,
	}
}
