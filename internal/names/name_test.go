package names

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupNameSpace(t *testing.T) (*NameSpace, func(string) *Name) {
	t.Helper()
	ns := NewNameSpace()
	parse := func(raw string) *Name {
		n, err := ns.Parse(raw)
		require.NoError(t, err, "parse %q", raw)
		return n
	}
	return ns, parse
}

var namesA = []string{
	"murray",
	"murray, s.",
	"murray, s. s.",
	"murray, stephen",
	"murray, stephen s.",
	"murray, stephen steve",
}

// namesB pairs each probe with its expected equality against each of namesA.
var namesB = []struct {
	name string
	eq   [6]bool
}{
	{"murray", [6]bool{true, true, true, true, true, true}},
	{"Murray", [6]bool{true, true, true, true, true, true}},
	{"murrayer", [6]bool{false, false, false, false, false, false}},
	{"M", [6]bool{false, false, false, false, false, false}},
	{"murray, s", [6]bool{true, true, true, true, true, true}},
	{"Murray, S.", [6]bool{true, true, true, true, true, true}},
	{"Burray, s.", [6]bool{false, false, false, false, false, false}},
	{"murray, e", [6]bool{true, false, false, false, false, false}},
	{"murray, e.", [6]bool{true, false, false, false, false, false}},
	{"murray, s s", [6]bool{true, true, true, true, true, true}},
	{"Murray, S. s.", [6]bool{true, true, true, true, true, true}},
	{"Burray, s. s.", [6]bool{false, false, false, false, false, false}},
	{"murray, e s", [6]bool{true, false, false, false, false, false}},
	{"murray, s e", [6]bool{true, true, false, true, false, false}},
	{"murray, stephen", [6]bool{true, true, true, true, true, true}},
	{"burray, stephen", [6]bool{false, false, false, false, false, false}},
	{"murray, eva", [6]bool{true, false, false, false, false, false}},
	{"murray, stephen s", [6]bool{true, true, true, true, true, true}},
	{"murray, stephen e", [6]bool{true, true, false, true, false, false}},
	{"burray, stephen s", [6]bool{false, false, false, false, false, false}},
	{"murray, eva s", [6]bool{true, false, false, false, false, false}},
	{"murray, stephen steve", [6]bool{true, true, true, true, true, true}},
	{"murray, stephen eva", [6]bool{true, true, false, true, false, false}},
	{"burray, stephen steve", [6]bool{false, false, false, false, false, false}},
}

func TestEquality(t *testing.T) {
	_, parse := setupNameSpace(t)
	for _, tc := range namesB {
		b := parse(tc.name)
		for i, want := range tc.eq {
			a := parse(namesA[i])
			assert.Equal(t, want, b.Equal(a), "%q vs %q", tc.name, namesA[i])
			// Symmetric in both directions.
			assert.Equal(t, want, a.Equal(b), "%q vs %q", namesA[i], tc.name)
		}
	}
}

func TestEqualityMemoized(t *testing.T) {
	ns, parse := setupNameSpace(t)
	a := parse("murray, s.")
	b := parse("murray, stephen")
	require.True(t, a.Equal(b))
	_, ok := ns.lookupEq(a.QualifiedFullName(), b.QualifiedFullName())
	assert.True(t, ok)
	_, ok = ns.lookupEq(b.QualifiedFullName(), a.QualifiedFullName())
	assert.True(t, ok)
}

func TestExactEquality(t *testing.T) {
	_, parse := setupNameSpace(t)
	exact := parse("=" + namesA[1])
	assert.True(t, exact.Equal(parse(namesA[1])))
	for _, other := range namesA {
		if other == namesA[1] {
			continue
		}
		assert.False(t, exact.Equal(parse(other)), "=%s vs %s", namesA[1], other)
		assert.False(t, parse(other).Equal(exact), "%s vs =%s", other, namesA[1])
	}
}

func TestSelfEquality(t *testing.T) {
	_, parse := setupNameSpace(t)
	cases := []struct {
		prefix string
		want   bool
	}{
		{"", true},
		{"=", true},
		{"<", false},
		{"<=", true},
		{">", false},
		{">=", true},
		{"@", true},
	}
	for _, tc := range cases {
		n := parse(tc.prefix + "murray, s.")
		assert.Equal(t, tc.want, n.Equal(n), "prefix %q", tc.prefix)
	}
}

func TestSpecificityModifiers(t *testing.T) {
	_, parse := setupNameSpace(t)
	less := parse("murray, s.")
	same := parse("murray, stephen")
	more := parse("murray, stephen s.")

	assert.True(t, parse("<murray, stephen").Equal(less))
	assert.False(t, parse("<murray, stephen").Equal(same))
	assert.False(t, parse("<murray, stephen").Equal(more))

	assert.True(t, parse("<=murray, stephen").Equal(less))
	assert.True(t, parse("<=murray, stephen").Equal(same))
	assert.False(t, parse("<=murray, stephen").Equal(more))

	assert.False(t, parse(">murray, stephen").Equal(less))
	assert.False(t, parse(">murray, stephen").Equal(same))
	assert.True(t, parse(">murray, stephen").Equal(more))

	assert.False(t, parse(">=murray, stephen").Equal(less))
	assert.True(t, parse(">=murray, stephen").Equal(same))
	assert.True(t, parse(">=murray, stephen").Equal(more))
}

func TestModifierCanonicalization(t *testing.T) {
	_, parse := setupNameSpace(t)
	want := parse("<=last, f").QualifiedFullName()
	assert.Equal(t, "<=last, f.", want)
	assert.Equal(t, want, parse("=><Last, F").QualifiedFullName())
	assert.Equal(t, want, parse("=<>Last, F").QualifiedFullName())
	assert.Equal(t, want, parse("<=Last, F").QualifiedFullName())
}

func TestParseNormalization(t *testing.T) {
	_, parse := setupNameSpace(t)
	want := parse("gomez vargas, g.")
	for _, raw := range []string{
		"Gómez-Vargas, G.",
		"  gomez  vargas ,  g  ",
		"GOMEZ VARGAS, G",
		"gomez-vargas, -g.",
	} {
		n := parse(raw)
		assert.Same(t, want, n, "parse %q", raw)
	}

	n := parse("van dyk, s. d.")
	assert.Equal(t, "van dyk", n.Last())
	assert.Equal(t, []string{"s", "d"}, n.GivenNames())
	assert.Equal(t, "van dyk, s. d.", n.FullName())
}

func TestParseInvalid(t *testing.T) {
	ns, _ := setupNameSpace(t)
	for _, raw := range []string{"", "   ", ", stephen", "...", "<=, s"} {
		_, err := ns.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidName, "parse %q", raw)
	}
}

func TestParseSeparate(t *testing.T) {
	ns, parse := setupNameSpace(t)
	n, err := ns.ParseSeparate("murray", "stephen", "s.")
	require.NoError(t, err)
	assert.Same(t, parse("murray, stephen s"), n)

	n, err = ns.ParseSeparate("murray")
	require.NoError(t, err)
	assert.Same(t, parse("murray"), n)
}

func TestInterning(t *testing.T) {
	_, parse := setupNameSpace(t)
	assert.Same(t, parse("Murray, S."), parse("murray, s"))
	assert.NotSame(t, parse("murray, s"), parse("=murray, s"))
	assert.Equal(t, "Murray, S.", parse("Murray, S.").OriginalName())
}

func TestBareOriginalName(t *testing.T) {
	_, parse := setupNameSpace(t)
	assert.Equal(t, "Murray, S.", parse("<=Murray, S.").BareOriginalName())
	assert.Equal(t, "Murray, S.", parse("@Murray, S.").BareOriginalName())
}

func TestLevelOfDetail(t *testing.T) {
	_, parse := setupNameSpace(t)
	assert.Equal(t, 0, parse("murray").LevelOfDetail())
	assert.Equal(t, 3, parse("murray, s.").LevelOfDetail())
	assert.Equal(t, 6, parse("murray, s. s.").LevelOfDetail())
	assert.Equal(t, 10, parse("murray, stephen").LevelOfDetail())
	assert.Equal(t, 13, parse("murray, stephen s.").LevelOfDetail())
	assert.Equal(t, 20, parse("murray, stephen steve").LevelOfDetail())
}

func TestIsMoreSpecificThan(t *testing.T) {
	_, parse := setupNameSpace(t)
	cases := []struct {
		more, less string
		want       bool
	}{
		{"murray, s.", "murray", true},
		{"murray, stephen", "murray, s.", true},
		{"murray, stephen s.", "murray, stephen", true},
		{"murray, s. s.", "murray, s.", true},
		{"murray, s.", "murray, stephen", false},
		{"murray, s.", "murray, s.", false},
		{"murray, e.", "murray, s.", false},
		{"burray, stephen", "murray, s.", false},
	}
	for _, tc := range cases {
		got := parse(tc.more).IsMoreSpecificThan(parse(tc.less))
		assert.Equal(t, tc.want, got, "%q more specific than %q", tc.more, tc.less)
	}
}

func TestSynonyms(t *testing.T) {
	ns, parse := setupNameSpace(t)
	require.NoError(t, ns.AddSynonymSet("benner, a; brenner, a. b.; benner, alice"))

	set := []string{"benner, a", "brenner, a. b.", "benner, alice"}
	for _, x := range set {
		for _, y := range set {
			assert.True(t, parse(x).Equal(parse(y)), "%q vs %q", x, y)
		}
	}

	// "benner, alice" wins on level of detail.
	assert.Equal(t, "benner, alice", parse("brenner, a. b.").Synonym().FullName())
	assert.Nil(t, parse("benner, alice").Synonym())

	// @ disables substitution on either side.
	assert.False(t, parse("@benner, a").Equal(parse("brenner, a. b.")))
	assert.False(t, parse("benner, a").Equal(parse("@brenner, a. b.")))
	assert.True(t, parse("@benner, a").Equal(parse("@benner, a")))
}

func TestSynonymCanonicalTieBreaks(t *testing.T) {
	t.Run("by length", func(t *testing.T) {
		ns, parse := setupNameSpace(t)
		require.NoError(t, ns.AddSynonymSet("longname, s; short, s"))
		assert.Equal(t, "longname, s.", parse("short, s").Synonym().FullName())
	})
	t.Run("reverse alphabetical", func(t *testing.T) {
		ns, parse := setupNameSpace(t)
		require.NoError(t, ns.AddSynonymSet("aaaaa, s; bbbbb, s"))
		assert.Equal(t, "bbbbb, s.", parse("aaaaa, s").Synonym().FullName())
	})
}

func TestSynonymLineErrors(t *testing.T) {
	ns, _ := setupNameSpace(t)
	assert.ErrorIs(t, ns.AddSynonymSet("only one"), ErrInvalidName)
	assert.ErrorIs(t, ns.AddSynonymSet("a, b; ; "), ErrInvalidName)
}

func TestLoadSynonymsFile(t *testing.T) {
	ns, parse := setupNameSpace(t)
	path := filepath.Join(t.TempDir(), "synonyms.txt")
	content := "# comment\n\nbenner, a; benner, alice\nsmith, j; smyth, j\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, ns.LoadSynonyms(path))
	assert.True(t, parse("smith, j").Equal(parse("smyth, j")))
	assert.True(t, parse("benner, a").Equal(parse("benner, alice")))
}
