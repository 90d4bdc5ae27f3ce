package script

import (
	"strconv"
	"strings"

	"github.com/duskproxy/mudproxy/internal/script/pattern"
)

// SECEscape implements the capture-escaping discipline from spec
// §4.3.3: before a captured game-text value (a trigger's %N) is
// substituted into a command template, it is ANSI-stripped and then
// `\`, `$`, `;`, and `@` are escaped so the captured text cannot split
// the command chain or trigger variable substitution downstream.
func SECEscape(captured string) string {
	s := pattern.StripANSI(captured)
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '$':
			b.WriteString(`$$`)
		case ';':
			b.WriteString(`\;`)
		case '@':
			b.WriteString(`\@`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SubstituteCaptures replaces %N placeholders in template with the
// SEC-escaped capture values from groups (groups[0] is the full match,
// %0; groups[1:] are %1..). A literal `%%` survives as a single `%`
// (spec §4.3.3).
func SubstituteCaptures(template string, groups []string) string {
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
				b.WriteString(SECEscape(groups[idx]))
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// SubstituteVars replaces `$name` references in s with the session's
// current variable values, used during alias expansion (spec §4.3.2
// rule 2) before alias matching.
func SubstituteVars(s string, vars map[string]string) string {
	var b strings.Builder
	n := len(s)
	for i := 0; i < n; i++ {
		c := s[i]
		if c != '$' || i+1 >= n {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < n && isVarNameByte(s[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		name := s[i+1 : j]
		if v, ok := vars[name]; ok {
			b.WriteString(v)
		}
		i = j - 1
	}
	return b.String()
}

func isVarNameByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// SubOutputEscape implements the SUB_ESC pass from spec §4.3.4,
// applied immediately before a command is written to the upstream
// socket: it reverses the escaping a template author uses to embed
// control characters or literal delimiters in a command body.
func SubOutputEscape(s string) string {
	var b strings.Builder
	n := len(s)
	for i := 0; i < n; i++ {
		if s[i] != '\\' || i+1 >= n {
			b.WriteByte(s[i])
			continue
		}
		next := s[i+1]
		switch next {
		case ';':
			b.WriteByte(';')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 'a':
			b.WriteByte('\a')
			i++
		case 'b':
			b.WriteByte('\b')
			i++
		case 'e':
			b.WriteByte('\x1b')
			i++
		case 'x':
			if i+3 < n {
				if v, ok := parseHexByte(s[i+2], s[i+3]); ok {
					b.WriteByte(v)
					i += 3
					continue
				}
			}
			b.WriteByte(s[i])
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func parseHexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexDigit(hi)
	l, ok2 := hexDigit(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
