package script

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// MaxExpansionDepth caps alias recursion (spec §4.3.2).
const MaxExpansionDepth = 10

// QueueFlushSafety is the safety timer after which a queued command
// backlog is drained as if alias-synced (spec §4.4.5).
const QueueFlushSafety = 3 * time.Second

// ExpandResult is the outcome of running one browser-submitted command
// string through splitting, alias expansion, and inline directives.
type ExpandResult struct {
	UpstreamCommands []string // SUB_ESC-applied, ready to write to the socket
	ClientCommands   []string // forwarded #directive lines the browser must run
}

// DirectiveRunner executes the small set of server-side inline
// directives (spec §4.3.3) against state, stamping VarModifiedAt for
// the race rule. It is implemented in directive.go.
type DirectiveRunner func(state *domain.ScriptState, name string, args string, now time.Time) (handled bool)

// Expand splits raw on unescaped `;`/newline (brace depth respected),
// then recursively alias-expands and directive-dispatches each piece
// (spec §4.3.2). raw=true bypasses all of this — the caller should
// write the bytes verbatim instead of calling Expand.
func Expand(state *domain.ScriptState, raw string, now time.Time, runDirective DirectiveRunner) ExpandResult {
	var res ExpandResult
	for _, sub := range SplitCommands(raw) {
		expandOne(state, sub, 0, now, runDirective, &res)
	}
	return res
}

// SplitCommands splits s on unescaped `;` and unescaped newlines,
// respecting `{...}` brace depth, per spec §4.3.2. A backslash-escaped
// separator is preserved verbatim (with its backslash) so the later
// SUB_ESC pass can unescape it consistently.
func SplitCommands(s string) []string {
	var parts []string
	var cur strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
		case c == '{':
			depth++
			cur.WriteByte(c)
		case c == '}':
			if depth > 0 {
				depth--
			}
			cur.WriteByte(c)
		case (c == ';' || c == '\n') && depth == 0:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 || len(parts) == 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func expandOne(state *domain.ScriptState, cmd string, depth int, now time.Time, runDirective DirectiveRunner, res *ExpandResult) {
	if depth > MaxExpansionDepth {
		return
	}
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return
	}

	if strings.HasPrefix(trimmed, "#") {
		name, args := splitDirective(trimmed)
		if runDirective != nil && runDirective(state, name, args, now) {
			return // handled server-side, e.g. #math/#var/#unvar/#format/#cat/#replace
		}
		res.ClientCommands = append(res.ClientCommands, trimmed)
		return
	}

	substituted := SubstituteVars(cmd, state.Variables)
	expansion, matched := tryAliases(state.Aliases, substituted)
	if matched {
		expandOne(state, expansion, depth+1, now, runDirective, res)
		return
	}

	res.UpstreamCommands = append(res.UpstreamCommands, SubOutputEscape(substituted))
}

// splitDirective separates a "#name rest of args" string into its
// directive name and argument text.
func splitDirective(s string) (name, args string) {
	s = strings.TrimPrefix(s, "#")
	i := strings.IndexAny(s, " \t")
	if i == -1 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

// tryAliases tries aliases in ascending Priority order and returns the
// expanded replacement for the first match, per spec §4.3.2 rule 3.
func tryAliases(aliases []*domain.Alias, cmd string) (expansion string, matched bool) {
	ordered := make([]*domain.Alias, len(aliases))
	copy(ordered, aliases)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	for _, a := range ordered {
		if !a.Enabled {
			continue
		}
		switch a.MatchKind {
		case domain.AliasExact:
			if exp, ok := matchExact(a, cmd); ok {
				return exp, true
			}
		case domain.AliasStartsWith:
			if exp, ok := matchStartsWith(a, cmd); ok {
				return exp, true
			}
		case domain.AliasRegex:
			if exp, ok := matchRegex(a, cmd); ok {
				return exp, true
			}
		case domain.AliasTintin:
			if exp, ok := matchTintin(a, cmd); ok {
				return exp, true
			}
		}
	}
	return "", false
}

func firstWord(s string) (word, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i == -1 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i+1:], " \t")
}

func matchExact(a *domain.Alias, cmd string) (string, bool) {
	word, rest := firstWord(cmd)
	if word != a.Invocation {
		return "", false
	}
	args := strings.Fields(rest)
	exp := substituteAliasArgs(a.Expansion, args, rest)
	if !hasPlaceholders(a.Expansion) && rest != "" {
		// Auto-append rule (spec §4.3.2): preserves `alias info →
		// priest` called as `info general` sending `priest general`.
		exp = exp + " " + rest
	}
	return exp, true
}

func matchStartsWith(a *domain.Alias, cmd string) (string, bool) {
	if !strings.HasPrefix(cmd, a.Invocation) {
		return "", false
	}
	if tail := cmd[len(a.Invocation):]; tail != "" && tail[0] != ' ' && tail[0] != '\t' {
		return "", false
	}
	rest := strings.TrimLeft(cmd[len(a.Invocation):], " \t")
	args := strings.Fields(rest)
	return substituteAliasArgs(a.Expansion, args, rest), true
}

func matchRegex(a *domain.Alias, cmd string) (string, bool) {
	if a.Regex == nil {
		return "", false
	}
	m := a.Regex.FindStringSubmatch(cmd)
	if m == nil {
		return "", false
	}
	return substituteDollarGroups(a.Expansion, m), true
}

func matchTintin(a *domain.Alias, cmd string) (string, bool) {
	if a.Regex == nil {
		return "", false
	}
	loc := a.Regex.FindStringSubmatchIndex(cmd)
	if loc == nil {
		return "", false
	}
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] < 0 {
			continue
		}
		groups[i] = cmd[loc[2*i]:loc[2*i+1]]
	}
	remainder := strings.TrimLeft(cmd[loc[1]:], " \t")
	extra := strings.Fields(remainder)
	allGroups := append(append([]string{}, groups...), extra...)
	return substituteCapturesRaw(a.Expansion, allGroups), true
}

// substituteAliasArgs replaces `$N` (1-based word args) and `$*` (the
// whole trailing remainder) in template.
func substituteAliasArgs(template string, args []string, remainder string) string {
	var b strings.Builder
	n := len(template)
	for i := 0; i < n; i++ {
		c := template[i]
		if c != '$' || i+1 >= n {
			b.WriteByte(c)
			continue
		}
		next := template[i+1]
		if next == '*' {
			b.WriteString(remainder)
			i++
			continue
		}
		if next >= '0' && next <= '9' {
			j := i + 1
			for j < n && template[j] >= '0' && template[j] <= '9' {
				j++
			}
			idx, _ := strconv.Atoi(template[i+1 : j])
			if idx >= 1 && idx <= len(args) {
				b.WriteString(args[idx-1])
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// substituteDollarGroups replaces `$1`.. with regex capture groups
// (index 0 is the overall match, matching spec's "groups into $1..").
func substituteDollarGroups(template string, groups []string) string {
	args := make([]string, 0, len(groups))
	if len(groups) > 0 {
		args = groups[1:]
	}
	return substituteAliasArgs(template, args, "")
}

// substituteCapturesRaw replaces %N placeholders with groups[N],
// without the SEC escaping trigger substitution applies (the captured
// text here is the player's own typed command, not game text).
func substituteCapturesRaw(template string, groups []string) string {
	var b strings.Builder
	n := len(template)
	for i := 0; i < n; i++ {
		c := template[i]
		if c != '%' || i+1 >= n {
			b.WriteByte(c)
			continue
		}
		next := template[i+1]
		if next == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		if next >= '0' && next <= '9' {
			j := i + 1
			for j < n && template[j] >= '0' && template[j] <= '9' {
				j++
			}
			idx, _ := strconv.Atoi(template[i+1 : j])
			if idx < len(groups) {
				b.WriteString(groups[idx])
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

var (
	dollarDigitRef = regexp.MustCompile(`\$\d`)
	percentDigitRef = regexp.MustCompile(`%\d`)
)

func hasPlaceholders(template string) bool {
	return strings.Contains(template, "$*") ||
		dollarDigitRef.MatchString(template) ||
		percentDigitRef.MatchString(template)
}
