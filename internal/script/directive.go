package script

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/script/arith"
)

// RaceRuleWindow is how long a server-set variable is protected from
// being overwritten by a stale browser `set_variables` snapshot (spec
// §5, "the race rule").
const RaceRuleWindow = 2 * time.Second

// RunDirective implements DirectiveRunner for the server-side inline
// directives of spec §4.3.3. It returns false for any directive name
// it doesn't recognize, signalling the caller to forward the original
// line to the browser as a `client_command` instead.
func RunDirective(state *domain.ScriptState, name string, args string, now time.Time) bool {
	switch strings.ToLower(name) {
	case "math":
		runMath(state, args, now)
	case "var", "variable":
		runVar(state, args, now)
	case "unvar":
		runUnvar(state, args, now)
	case "format":
		runFormat(state, args, now)
	case "cat":
		runCat(state, args, now)
	case "replace":
		runReplace(state, args, now)
	default:
		return false
	}
	return true
}

func stampVar(state *domain.ScriptState, name string, now time.Time) {
	if state.VarModifiedAt == nil {
		state.VarModifiedAt = make(map[string]time.Time)
	}
	state.VarModifiedAt[name] = now
}

// runMath evaluates `<var> <expr>` via internal/script/arith and
// stores the truncated integer result. A parse failure is a silent
// no-op (spec §7: "the #math assignment is silently no-op").
func runMath(state *domain.ScriptState, args string, now time.Time) {
	name, expr := firstWord(args)
	if name == "" {
		return
	}
	v, err := arith.Eval(expr)
	if err != nil {
		return
	}
	state.Variables[name] = strconv.FormatInt(v, 10)
	stampVar(state, name, now)
}

// runVar implements `#var <var> <value>` (value may contain `{…}`
// passed through literally, spec §4.3.3).
func runVar(state *domain.ScriptState, args string, now time.Time) {
	name, value := firstWord(args)
	if name == "" {
		return
	}
	state.Variables[name] = stripOuterBraces(value)
	stampVar(state, name, now)
}

func runUnvar(state *domain.ScriptState, args string, now time.Time) {
	name := strings.TrimSpace(args)
	if name == "" {
		return
	}
	delete(state.Variables, name)
	stampVar(state, name, now)
}

// runCat implements `#cat <var> <values…>`: append values to var.
func runCat(state *domain.ScriptState, args string, now time.Time) {
	name, rest := firstWord(args)
	if name == "" {
		return
	}
	state.Variables[name] = state.Variables[name] + rest
	stampVar(state, name, now)
}

// runReplace implements `#replace <var> <old> <new>`: literal,
// all-occurrences replacement.
func runReplace(state *domain.ScriptState, args string, now time.Time) {
	name, rest := firstWord(args)
	if name == "" {
		return
	}
	old, newVal := firstWord(rest)
	cur, ok := state.Variables[name]
	if !ok {
		return
	}
	state.Variables[name] = strings.ReplaceAll(cur, old, newVal)
	stampVar(state, name, now)
}

func stripOuterBraces(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		return s[1 : len(s)-1]
	}
	return s
}

// runFormat implements `#format <var> <formatString> <args…>`, a
// printf-style directive with the specifier set from spec §4.3.3:
// s d f g u l n r p L M T U H D x X a A c m t h, each optionally
// preceded by a `±width.maxlen` padding spec.
func runFormat(state *domain.ScriptState, args string, now time.Time) {
	name, rest := firstWord(args)
	if name == "" {
		return
	}
	formatStr, argStr := firstWord(rest)
	values := strings.Fields(argStr)
	out, err := applyFormat(formatStr, values)
	if err != nil {
		return
	}
	state.Variables[name] = out
	stampVar(state, name, now)
}

// applyFormat scans formatStr for `%[±width[.maxlen]]<specifier>`
// tokens, consuming one value from values per specifier in order.
// Unrecognized specifiers are rejected (returns an error, making the
// whole #format a no-op, consistent with the "#math" silent-no-op
// error posture for malformed directives in spec §7).
func applyFormat(formatStr string, values []string) (string, error) {
	var b strings.Builder
	vi := 0
	n := len(formatStr)
	for i := 0; i < n; i++ {
		if formatStr[i] != '%' || i+1 >= n {
			b.WriteByte(formatStr[i])
			continue
		}
		j := i + 1
		widthStart := j
		if j < n && (formatStr[j] == '+' || formatStr[j] == '-') {
			j++
		}
		for j < n && formatStr[j] >= '0' && formatStr[j] <= '9' {
			j++
		}
		if j < n && formatStr[j] == '.' {
			j++
			for j < n && formatStr[j] >= '0' && formatStr[j] <= '9' {
				j++
			}
		}
		if j >= n {
			return "", fmt.Errorf("script: #format truncated specifier")
		}
		spec := formatStr[j]
		if !strings.ContainsRune("sdfgulnrpLMTUHDxXaAcmth", rune(spec)) {
			return "", fmt.Errorf("script: #format unknown specifier %%%c", spec)
		}
		width := formatStr[widthStart:j]
		var val string
		if vi < len(values) {
			val = values[vi]
			vi++
		}
		b.WriteString(applyFormatSpec(spec, width, val))
		i = j
	}
	return b.String(), nil
}

// applyFormatSpec renders a single specifier's value with an optional
// `±width.maxlen` padding/truncation spec. Numeric specifiers (d/n,
// f/g, x/X) parse the string value as a base-10 number (an unparseable
// value renders as 0) and re-render it before padding/truncation, since
// the scripting variables table is untyped strings throughout (spec §9
// decision: variables are always strings).
func applyFormatSpec(spec byte, width, val string) string {
	maxlen := -1
	w := 0
	rest := width
	neg := false
	if len(rest) > 0 && (rest[0] == '+' || rest[0] == '-') {
		neg = rest[0] == '-'
		rest = rest[1:]
	}
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		if n, err := strconv.Atoi(rest[:dot]); err == nil {
			w = n
		}
		if n, err := strconv.Atoi(rest[dot+1:]); err == nil {
			maxlen = n
		}
	} else if rest != "" {
		if n, err := strconv.Atoi(rest); err == nil {
			w = n
		}
	}

	out := formatBySpecifier(spec, val)
	if maxlen >= 0 && len(out) > maxlen {
		out = out[:maxlen]
	}
	if w > len(out) {
		pad := strings.Repeat(" ", w-len(out))
		if neg {
			out = out + pad
		} else {
			out = pad + out
		}
	}
	return out
}

func formatBySpecifier(spec byte, val string) string {
	switch spec {
	case 's':
		return val
	case 'd', 'n':
		v, _ := strconv.ParseInt(val, 10, 64)
		return strconv.FormatInt(v, 10)
	case 'f', 'g':
		v, _ := strconv.ParseFloat(val, 64)
		return strconv.FormatFloat(v, 'f', -1, 64)
	case 'x':
		v, _ := strconv.ParseInt(val, 10, 64)
		return strconv.FormatInt(v, 16)
	case 'X':
		v, _ := strconv.ParseInt(val, 10, 64)
		return strings.ToUpper(strconv.FormatInt(v, 16))
	case 'u':
		return strings.ToUpper(val)
	case 'l':
		return strings.ToLower(val)
	case 'U':
		if val == "" {
			return val
		}
		return strings.ToUpper(val[:1]) + val[1:]
	default:
		// L, M, T, H, D, a, A, c, m, t, r, p, h: passed through
		// verbatim; the reference game's richer date/role/location
		// formatting has no equivalent local state to render here.
		return val
	}
}
