package sideband

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// ChatMessage is a decoded BAB (tell) or CAA (channel) frame, ready to
// become a `mip_chat` outbound message (spec §6.1).
type ChatMessage struct {
	ChatType string // "tell_in", "tell_out", "channel"
	Channel  string
	RawText  string
}

// DebugEvent carries an unrecognized or debug-only frame through to the
// browser as `mip_debug` when debug mode is enabled (spec §3.1's
// SidebandState.Debug).
type DebugEvent struct {
	MsgType string
	MsgData string
}

// ApplyFrame decodes frame and applies it to stats in place, returning
// a chat message when the frame was BAB/CAA, or hasChat=false when the
// frame carries no chat payload (stats-only or reboot/uptime frames).
func ApplyFrame(stats *domain.SidebandStats, frame Frame) (chat ChatMessage, hasChat bool) {
	switch frame.Type {
	case "FFF":
		applyStatusFrame(stats, frame.Payload)
	case "BAD":
		stats.RoomName = frame.Payload
	case "DDD":
		stats.Exits = splitTilde(frame.Payload)
	case "BBA", "BBB":
		// HP and SP labels; SidebandStats has no field for them, so
		// they are dropped. Only the two generic gauges keep a label.
	case "BBC":
		stats.GaugeALabel = frame.Payload
	case "BBD":
		stats.GaugeBLabel = frame.Payload
	case "BAB":
		return decodeTell(frame.Payload), true
	case "CAA":
		return decodeChannel(frame.Payload), true
	case "AAC":
		stats.RebootDays = parseFloat(frame.Payload)
	case "AAF":
		stats.UptimeDays = parseFloat(frame.Payload)
	}
	return ChatMessage{}, false
}

// applyStatusFrame parses an FFF tilde-delimited status frame. Each
// field is a single-letter tag immediately followed by its value, with
// fields separated by `~` (spec §4.2.1).
func applyStatusFrame(stats *domain.SidebandStats, payload string) {
	for _, tok := range splitTilde(payload) {
		if len(tok) < 1 {
			continue
		}
		tag := tok[0]
		val := tok[1:]
		switch tag {
		case 'A':
			stats.HPCurrent = parseInt(val)
		case 'B':
			stats.HPMax = parseInt(val)
		case 'C':
			stats.SPCurrent = parseInt(val)
		case 'D':
			stats.SPMax = parseInt(val)
		case 'E':
			stats.GaugeACurrent = parseInt(val)
		case 'F':
			stats.GaugeAMax = parseInt(val)
		case 'G':
			stats.GaugeBCurrent = parseInt(val)
		case 'H':
			stats.GaugeBMax = parseInt(val)
		case 'K':
			stats.EnemyName = val
		case 'L':
			stats.EnemyPercent = parseInt(val)
		case 'N':
			stats.CombatRound = parseInt(val)
		case 'I':
			stats.GuildLine1 = val
			mergeGuildVars(stats, val)
		case 'J':
			stats.GuildLine2 = val
			mergeGuildVars(stats, val)
		}
	}
}

func decodeTell(payload string) ChatMessage {
	fields := splitTilde(payload)
	if len(fields) == 0 {
		return ChatMessage{ChatType: "tell_in", RawText: payload}
	}
	switch fields[0] {
	case "":
		return ChatMessage{ChatType: "tell_in", RawText: strings.Join(fields[1:], "~")}
	case "x":
		return ChatMessage{ChatType: "tell_out", RawText: strings.Join(fields[1:], "~")}
	default:
		return ChatMessage{ChatType: "tell_in", RawText: payload}
	}
}

func decodeChannel(payload string) ChatMessage {
	fields := splitTilde(payload)
	if len(fields) == 0 {
		return ChatMessage{ChatType: "channel", RawText: payload}
	}
	return ChatMessage{
		ChatType: "channel",
		Channel:  fields[0],
		RawText:  strings.Join(fields[1:], "~"),
	}
}

func splitTilde(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "~")
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(s))
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// guildVarPatterns recognizes the "name: [n/m]", "name: [n%]",
// "name: n%", and "name: [n]" shapes called out in spec §4.2.1 for
// parsing guild-line variables into a string-keyed numeric map.
var guildVarPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\w+):\s*\[(\d+)/(\d+)\]`),
	regexp.MustCompile(`(\w+):\s*\[(\d+)%\]`),
	regexp.MustCompile(`(\w+):\s*(\d+)%`),
	regexp.MustCompile(`(\w+):\s*\[(\d+)\]`),
}

func mergeGuildVars(stats *domain.SidebandStats, line string) {
	if stats.GuildVars == nil {
		stats.GuildVars = make(map[string]string)
	}
	plain := StripColorMarkup(line)
	for _, re := range guildVarPatterns {
		for _, m := range re.FindAllStringSubmatch(plain, -1) {
			switch len(m) {
			case 3:
				stats.GuildVars[m[1]] = m[2]
			case 4:
				stats.GuildVars[m[1]] = m[2] + "/" + m[3]
			}
		}
	}
}

// colorOpen matches an opening color-markup tag like `<r` or `<g` — a
// single letter color code, not a whole following word; the matching
// close is a bare `>` later in the same string (spec §4.2.1: "color
// markup in chat is converted to span-based inline styles").
var colorOpen = regexp.MustCompile(`<([a-zA-Z])`)

// colorOpenPlaceholder is a marker byte sequence that cannot occur in
// normal chat text, used so the later bare-`>` close substitution
// doesn't also match the `>` inside a freshly-inserted <span> tag.
const colorOpenPlaceholder = "\x00MIPOPEN:"

// ColorMarkupToSpans converts `<r...>`-style color markup into
// `<span class="mip-color-r">...</span>` for browser rendering. The
// open tag is first swapped for a NUL-delimited placeholder so the
// later bare-`>` close substitution can't also match the `>` the
// placeholder itself will expand into.
func ColorMarkupToSpans(s string) string {
	s = colorOpen.ReplaceAllString(s, colorOpenPlaceholder+"$1\x00")
	s = strings.ReplaceAll(s, ">", "</span>")
	for {
		start := strings.Index(s, colorOpenPlaceholder)
		if start == -1 {
			break
		}
		nameStart := start + len(colorOpenPlaceholder)
		nameEnd := strings.IndexByte(s[nameStart:], '\x00')
		if nameEnd == -1 {
			break
		}
		name := s[nameStart : nameStart+nameEnd]
		s = s[:start] + `<span class="mip-color-` + name + `">` + s[nameStart+nameEnd+1:]
	}
	return s
}

// StripColorMarkup removes color-markup tags entirely, used before
// numeric guild-variable extraction so digits aren't mistaken for tag
// content.
func StripColorMarkup(s string) string {
	s = colorOpen.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, ">", "")
}
