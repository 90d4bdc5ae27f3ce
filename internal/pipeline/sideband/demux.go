package sideband

import "github.com/duskproxy/mudproxy/internal/domain"

// Demux is the per-session MIP sideband state described in spec §3.1:
// whether demuxing is enabled, the negotiated correlation id, debug
// mode, and the running stats snapshot frames accumulate into.
type Demux struct {
	Enabled       bool
	CorrelationID string
	Debug         bool
	Stats         domain.SidebandStats
}

// Result is what processing one line through the demux produces.
type Result struct {
	Remainder string
	Chats     []ChatMessage
	Debugs    []DebugEvent
	StatsChanged bool
}

// Process implements spec §4.2 Step 4: strips every MIP marker out of
// line, applies recognized frames to the running stats snapshot, and
// collects chat/debug events for the caller to fan out. Frames whose
// id does not match the negotiated CorrelationID are still stripped
// from the line (so they never leak into trigger matching) but are not
// applied to stats, matching spec §4.2's "unregistered-id patterns...
// similarly stripped" note.
func (d *Demux) Process(line string) Result {
	if !d.Enabled {
		return Result{Remainder: line}
	}
	remainder, frames := ExtractAll(line)
	res := Result{Remainder: remainder}
	for _, f := range frames {
		if d.CorrelationID != "" && f.ID != d.CorrelationID {
			if d.Debug {
				res.Debugs = append(res.Debugs, DebugEvent{MsgType: f.Type, MsgData: f.Payload})
			}
			continue
		}
		chat, hasChat := ApplyFrame(&d.Stats, f)
		res.StatsChanged = true
		if hasChat {
			res.Chats = append(res.Chats, chat)
		}
		if d.Debug {
			res.Debugs = append(res.Debugs, DebugEvent{MsgType: f.Type, MsgData: f.Payload})
		}
	}
	return res
}
