package script

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/script/pattern"
)

// RunawayWindow and RunawayLimit implement the trigger runaway guard
// from spec §4.3.1: a trigger firing 50 times within a 2-second window
// is disabled server-side.
const (
	RunawayWindow = 2 * time.Second
	RunawayLimit  = 50
)

// LineResult is everything produced by running one upstream line
// through the trigger engine (spec §4.2 Step 5 / §4.3.1).
type LineResult struct {
	Gagged      bool
	DisplayLine string // colored line, after highlight/substitute actions
	Sound       bool   // a matched trigger carried a sound action
	Commands    []string
	ChatEvents  []ChatEvent
	DisabledIDs []string // triggers disabled this call by the runaway guard
}

// ChatEvent is a discord/chatmon action queued by a trigger, to be
// fanned out once the whole line has finished processing (spec
// §4.3.1: "variable substitution happens at the session level so user
// vars updated by earlier actions in the same line are visible").
type ChatEvent struct {
	Kind string // "discord" or "chatmon"
	Text string
}

// ProcessLine runs coloredLine through the sorted, enabled triggers in
// state, mutating state.VarModifiedAt is NOT done here (only directives
// do that); it returns the combined effect of every matching trigger,
// per the ordering and first-command-wins rules in spec §4.3.1.
func ProcessLine(state *domain.ScriptState, coloredLine string, now time.Time) LineResult {
	stripped := pattern.StripANSI(coloredLine)

	enabled := make([]*domain.Trigger, 0, len(state.Triggers))
	for _, t := range state.Triggers {
		if t.Enabled && !t.Disabled {
			enabled = append(enabled, t)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	res := LineResult{DisplayLine: coloredLine}
	commandClaimed := false

	for _, trig := range enabled {
		groups, matched := matchTrigger(trig, stripped)
		if !matched {
			continue
		}

		if disabled := recordFire(trig, now); disabled {
			res.DisabledIDs = append(res.DisabledIDs, trig.ID)
			continue
		}

		// A trigger's actions[] is a tagged union fired in order (spec
		// §3.2): the same match can gag, highlight, and queue a command
		// all at once. Only the first matched trigger (by priority)
		// whose actions include a command gets its command(s) actually
		// sent (spec §3.6, §4.3.1 rule); every other action kind always
		// applies regardless of which trigger claimed the command.
		allowCommand := !commandClaimed
		for _, act := range trig.Actions {
			switch act.Kind {
			case domain.ActionGag:
				res.Gagged = true
			case domain.ActionHighlight:
				res.DisplayLine = applyHighlight(res.DisplayLine, groups, act)
			case domain.ActionSubstitute:
				replacement := SubstituteCaptures(act.Replacement, groups)
				replacement = SubstituteVars(replacement, state.Variables)
				res.DisplayLine = substituteMatch(res.DisplayLine, trig, replacement)
			case domain.ActionCommand:
				if allowCommand {
					commandClaimed = true
					res.Commands = append(res.Commands, SubstituteCaptures(act.Command, groups))
				}
			case domain.ActionSound:
				res.Sound = true
			case domain.ActionDiscord:
				res.ChatEvents = append(res.ChatEvents, ChatEvent{Kind: "discord", Text: SubstituteVars(coloredLine, state.Variables)})
			case domain.ActionChatMonitor:
				res.ChatEvents = append(res.ChatEvents, ChatEvent{Kind: "chatmon", Text: SubstituteVars(coloredLine, state.Variables)})
			}
		}
	}
	return res
}

// matchTrigger reports whether trig matches stripped, and if so the
// capture groups (index 0 is always the full match, per spec §4.1).
func matchTrigger(trig *domain.Trigger, stripped string) ([]string, bool) {
	if trig.Regex != nil {
		m := trig.Regex.FindStringSubmatch(stripped)
		if m == nil {
			return nil, false
		}
		return m, true
	}
	// No compiled regex: case-sensitive literal substring match
	// (spec §4.3.1 auto-detect fallback).
	if strings.Contains(stripped, trig.Pattern) {
		return []string{trig.Pattern}, true
	}
	return nil, false
}

// applyHighlight wraps the matched substring of line (located via
// groups[0], the full match text) with an inline-style marker tag for
// the browser to render, carrying act's optional fgColor/bgColor/
// blink/underline (spec §3.2, §4.3.1).
func applyHighlight(line string, groups []string, act domain.TriggerAction) string {
	if len(groups) == 0 || groups[0] == "" {
		return line
	}
	var style strings.Builder
	if act.FGColor != "" {
		fmt.Fprintf(&style, "color:%s;", act.FGColor)
	}
	if act.BGColor != "" {
		fmt.Fprintf(&style, "background-color:%s;", act.BGColor)
	}
	var decorations []string
	if act.Blink {
		decorations = append(decorations, "blink")
	}
	if act.Underline {
		decorations = append(decorations, "underline")
	}
	if len(decorations) > 0 {
		fmt.Fprintf(&style, "text-decoration:%s;", strings.Join(decorations, " "))
	}
	span := fmt.Sprintf(`<span class="trigger-highlight" style="%s">%s</span>`, style.String(), groups[0])
	return strings.Replace(line, groups[0], span, 1)
}

// substituteMatch replaces the trigger's matched text in line with
// replacement, case-sensitive and global across the line (spec
// §4.3.1: "replacement uses case-sensitive global match").
func substituteMatch(line string, trig *domain.Trigger, replacement string) string {
	if trig.Regex != nil {
		caseSensitiveRe := trig.Regex
		if !trig.CaseSensitive {
			// The stored Regex may already be case-insensitive for
			// matching; substitution itself must be case-sensitive,
			// so recompile without the (?i) flag when possible.
			if src, ok := strings.CutPrefix(trig.Regex.String(), "(?i)"); ok {
				if re, err := regexp.Compile(src); err == nil {
					caseSensitiveRe = re
				}
			}
		}
		// Only '$' needs escaping here: Go's ReplaceAllString treats
		// "$1"-style refs specially in the replacement text, but
		// otherwise copies it verbatim (unlike QuoteMeta, which would
		// wrongly introduce literal backslashes into plain text).
		return caseSensitiveRe.ReplaceAllString(line, strings.ReplaceAll(replacement, "$", "$$"))
	}
	return strings.ReplaceAll(line, trig.Pattern, replacement)
}

// recordFire updates trig's runaway-guard tracker and reports whether
// the trigger should be disabled as a result of this fire (spec
// §4.3.1): once 50 fires have been counted in the current window, the
// next fire inside it disables the trigger. The window starts at the
// first fire of a run and a fire more than 2s after that first fire
// starts a new window; the gap since the previous fire is not tracked.
func recordFire(trig *domain.Trigger, now time.Time) (disabled bool) {
	if trig.Loop.FirstFire.IsZero() || now.Sub(trig.Loop.FirstFire) > RunawayWindow {
		trig.Loop.FirstFire = now
		trig.Loop.Count = 1
		return false
	}
	trig.Loop.Count++
	if trig.Loop.Count > RunawayLimit {
		trig.Disabled = true
		trig.Loop.Count = 0
		trig.Loop.FirstFire = time.Time{}
		return true
	}
	return false
}

// DisableTriggerSystemLine formats the human-readable system line
// emitted alongside a disable_trigger notification (spec §4.3.1).
func DisableTriggerSystemLine(triggerID string) string {
	return fmt.Sprintf("Trigger %s fired too rapidly and has been disabled.", triggerID)
}
