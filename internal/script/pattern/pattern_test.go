package pattern

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, src string) *Compiled {
	t.Helper()
	c, err := Compile(src)
	require.NoError(t, err, "Compile(%q)", src)
	return c
}

func TestCompileLiteralEscaping(t *testing.T) {
	c := mustCompile(t, "a.b+c")
	require.True(t, c.Regex.MatchString("a.b+c"), "expected literal match")
	require.False(t, c.Regex.MatchString("axbyc"), "metacharacters should have been escaped")
}

func TestGreedinessRuleLazyWhenFollowed(t *testing.T) {
	// "%*end" — the wildcard is not the last element (literal "end"
	// follows), so it must be lazy and match as little as possible.
	c := mustCompile(t, "%*end")
	m := c.Regex.FindStringSubmatch("xxxendxxxend")
	require.NotNil(t, m, "expected a match")
	require.Equal(t, "xxxend", m[0], "expected lazy match to stop at first occurrence")
}

func TestGreedinessRuleGreedyWhenLast(t *testing.T) {
	c := mustCompile(t, "start%*")
	m := c.Regex.FindStringSubmatch("startxxxendxxxend")
	require.NotNil(t, m, "expected a match")
	require.Equal(t, "xxxendxxxend", m[1], "expected greedy match to consume to end")
}

func TestNonCapturingPrefix(t *testing.T) {
	c := mustCompile(t, "%!%*end")
	require.Equal(t, 0, c.NumCaptures)
}

func TestDigitRun(t *testing.T) {
	c := mustCompile(t, "hp %d/%d")
	m := c.Regex.FindStringSubmatch("hp 42/100")
	require.NotNil(t, m, "expected match")
	require.Equal(t, []string{"hp 42/100", "42", "100"}, m)
}

func TestRangeWildcard(t *testing.T) {
	c := mustCompile(t, "^code:%+2..4d$")
	require.False(t, c.Regex.MatchString("code:1"), "should not match below min digits")
	require.True(t, c.Regex.MatchString("code:12"), "should match within range")
	require.False(t, c.Regex.MatchString("code:123456"), "should not match above max digits when fully anchored")
}

func TestBraceEmbed(t *testing.T) {
	c := mustCompile(t, "{[0-9]+}kg")
	m := c.Regex.FindStringSubmatch("42kg")
	require.NotNil(t, m)
	require.Equal(t, "42", m[1])
}

func TestNonCapturingBraceEmbed(t *testing.T) {
	c := mustCompile(t, "%!{[0-9]+}kg")
	require.Equal(t, 0, c.NumCaptures)
}

func TestAnchors(t *testing.T) {
	c := mustCompile(t, "^hello$")
	require.True(t, c.Regex.MatchString("hello"), "expected anchored match")
	require.False(t, c.Regex.MatchString("hello world"), "anchors should have constrained the match")
}

func TestCaseToggleWildcardsIgnored(t *testing.T) {
	c := mustCompile(t, "a%ub")
	require.Equal(t, 0, c.NumCaptures, "case toggles must not capture")
	require.True(t, c.Regex.MatchString("ab"), "case toggle wildcard should contribute no regex content")
}

func TestLooksLikeWildcard(t *testing.T) {
	cases := map[string]bool{
		"hello there": false,
		"%w has died": true,
		"^start":      true,
		"end$":        true,
		"{[0-9]+}":    true,
		`\{literal\}`: false,
	}
	for src, want := range cases {
		require.Equal(t, want, LooksLikeWildcard(src), "LooksLikeWildcard(%q)", src)
	}
}

func TestStripANSI(t *testing.T) {
	in := "\x1b[31mHP\x1b[0m: 100"
	require.Equal(t, "HP: 100", StripANSI(in))
}

func TestANSIConsumeWildcard(t *testing.T) {
	c := mustCompile(t, "HP%c: %d")
	m := c.Regex.FindStringSubmatch("HP\x1b[31m\x1b[1m: 100")
	require.NotNil(t, m, "expected match")
	require.Equal(t, "100", m[1])
}
