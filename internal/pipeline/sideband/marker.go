// Package sideband implements the MIP in-band sideband protocol (spec
// §4.2 Step 4, §4.2.1): frames are embedded directly in the upstream
// text stream behind a short marker, the same "scan for an escape
// introducer, then consume a known-length payload" technique the
// teacher uses for OSC 133 (internal/terminal/osc133_parser.go),
// generalized from `ESC ] 133 ; ... BEL` to a decimal id/length header.
package sideband

import "regexp"

// marker matches the MIP frame header: a `%`, a 5-digit correlation
// id, a 3-digit payload length, and a 3-letter uppercase frame type.
// An optional `#K` prefix is accepted for the early-session variant
// seen before a correlation id has been negotiated (spec §4.2,
// "several early-session variants are accepted").
var marker = regexp.MustCompile(`(?:#K)?%(\d{5})(\d{3})([A-Z]{3})`)

// Frame is one decoded MIP sideband frame: its 3-letter type and the
// raw payload bytes (as a string) that followed the marker header.
type Frame struct {
	ID      string
	Type    string
	Payload string
}

// extractOne locates the first marker in line and, if the declared
// payload length fits within the remaining text, returns the frame
// plus the text before and after it. It returns ok=false if no marker
// is present or the payload is truncated (the caller should leave the
// line untouched in that case — a future chunk may complete it).
func extractOne(line string) (before string, frame Frame, after string, ok bool) {
	loc := marker.FindStringSubmatchIndex(line)
	if loc == nil {
		return "", Frame{}, "", false
	}
	matchStart, matchEnd := loc[0], loc[1]
	id := line[loc[2]:loc[3]]
	lenStr := line[loc[4]:loc[5]]
	typ := line[loc[6]:loc[7]]

	length := parseLength(lenStr)
	payloadStart := matchEnd
	payloadEnd := payloadStart + length
	if payloadEnd > len(line) {
		// Truncated; caller should wait for more data rather than
		// misparse a partial payload.
		return "", Frame{}, "", false
	}

	before = line[:matchStart]
	after = line[payloadEnd:]
	frame = Frame{ID: id, Type: typ, Payload: line[payloadStart:payloadEnd]}
	return before, frame, after, true
}

// ExtractAll repeatedly strips markers out of line until none remain,
// returning the reassembled remainder text (the pieces before/after
// every frame, concatenated in order, per spec §4.2 Step 4: "the text
// before and after the frame re-enters Step 5") and the frames found,
// in order.
func ExtractAll(line string) (remainder string, frames []Frame) {
	remaining := line
	var b []byte
	for {
		before, frame, after, ok := extractOne(remaining)
		if !ok {
			b = append(b, remaining...)
			break
		}
		b = append(b, before...)
		frames = append(frames, frame)
		remaining = after
	}
	return string(b), frames
}

func parseLength(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
