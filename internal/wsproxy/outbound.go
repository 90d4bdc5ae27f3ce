package wsproxy

import (
	"strings"

	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/script/pattern"
)

// deliverLocked writes ob to sess's attached browser, or buffers it for
// later replay if no browser is attached (spec §4.4.3). Caller must
// hold sess.Mu.
func deliverLocked(sess *domain.Session, ob outbound, isChat bool) {
	msg := domain.OutboundMessage{Type: ob.Type, Payload: ob, IsChat: isChat}
	if sess.Browser != nil {
		if err := sess.Browser.WriteJSON(ob); err == nil {
			return
		}
		// Write failed; treat as detached so the message isn't lost —
		// fall through to buffering below.
		sess.Browser = nil
	}
	if isChat {
		sess.ChatRing.Push(msg)
	} else if sess.OutboundBuffer.Push(msg) {
		sess.OutboundOverflowed = true
	}
}

func deliver(sess *domain.Session, ob outbound, isChat bool) {
	sess.Mu.Lock()
	deliverLocked(sess, ob, isChat)
	sess.Mu.Unlock()
}

// replayBufferedLocked implements spec §4.4.3's pure-resume rule: the
// outbound (mud-text) buffer is discarded outright rather than
// replayed — catching up on 150 lines of stale mud output after a
// phone-lock nap is noise — but a truncation summary is emitted if any
// of it was ever dropped for overflow, and the chat ring is always
// replayed in full since a missed tell is not acceptable. Caller must
// hold sess.Mu.
func replayBufferedLocked(sess *domain.Session) {
	sess.OutboundBuffer.Drain()
	if sess.OutboundOverflowed {
		sess.OutboundOverflowed = false
		deliverLocked(sess, outbound{Type: "system", Message: "some mud output was dropped while you were disconnected", Subtype: "buffer_overflow"}, false)
	}
	for _, m := range sess.ChatRing.Drain() {
		if ob, ok := m.Payload.(outbound); ok && sess.Browser != nil {
			_ = sess.Browser.WriteJSON(ob)
		}
	}
}

func sendSystem(sess *domain.Session, message, subtype string) {
	deliver(sess, outbound{Type: "system", Message: message, Subtype: subtype}, false)
}

func sendError(sess *domain.Session, message string) {
	deliver(sess, outbound{Type: "error", Message: message}, false)
}

func sendMUD(sess *domain.Session, line string, highlight, sound bool) {
	deliver(sess, outbound{Type: "mud", Line: line, Highlight: highlight, Sound: sound}, false)
}

func sendMIPChat(sess *domain.Session, chatType, channel, rawText string) {
	deliver(sess, outbound{Type: "mip_chat", ChatType: chatType, Channel: channel, RawText: rawText}, true)
}

func sendMIPStats(sess *domain.Session, stats domain.SidebandStats) {
	deliver(sess, outbound{Type: "mip_stats", Stats: stats}, false)
}

func sendMIPDebug(sess *domain.Session, msgType, msgData string) {
	deliver(sess, outbound{Type: "mip_debug", MsgType: msgType, MsgData: msgData}, false)
}

func sendClientCommand(sess *domain.Session, command string) {
	deliver(sess, outbound{Type: "client_command", Command: command}, false)
}

func sendDisableTrigger(sess *domain.Session, triggerID string) {
	deliver(sess, outbound{Type: "disable_trigger", TriggerID: triggerID}, false)
}

// maxDiscordContentLen mirrors the external Discord proxy's own message
// cap; the proxy truncates before forwarding so a single over-long
// line doesn't get silently rejected upstream (spec §6.4).
const maxDiscordContentLen = 1997

// zeroWidthSpace is inserted between `@` and a mass-ping keyword to
// defang it without changing how the text reads (spec §6.4).
const zeroWidthSpace = "​"

// sanitizeDiscordContent implements spec §6.4: strip ANSI, defang
// `@everyone`/`@here` mass-pings, and truncate to 1997 characters.
func sanitizeDiscordContent(s string) string {
	s = pattern.StripANSI(s)
	s = strings.ReplaceAll(s, "@everyone", "@"+zeroWidthSpace+"everyone")
	s = strings.ReplaceAll(s, "@here", "@"+zeroWidthSpace+"here")
	if len(s) > maxDiscordContentLen {
		s = s[:maxDiscordContentLen] + "..."
	}
	return s
}
