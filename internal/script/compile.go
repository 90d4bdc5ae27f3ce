// Package script implements the scripting engine described in spec
// §4.3: trigger execution against upstream lines, alias expansion and
// inline directives against browser-typed commands, the SEC/SUB_ESC
// escaping passes, and ticker scheduling. It is grounded on the
// teacher's ticker/timer lifecycle management
// (internal/container/ttl.go's StartTTLWorker) and the idle-monitor
// goroutine shape from the MUD-domain reference file
// (cory-johannsen-mud's game_bridge.go), generalized from "one
// container TTL sweep" / "one idle timer" to N independent per-session
// timers.
package script

import (
	"fmt"
	"regexp"

	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/script/pattern"
)

// CompileTrigger turns a persisted trigger definition into a live
// Trigger, compiling its pattern according to the auto-detection rule
// in spec §4.3.1: wildcard syntax compiles through internal/script/pattern;
// anything else is left uncompiled and matched as a case-sensitive
// literal substring at match time.
func CompileTrigger(pt domain.PersistedTrigger) (*domain.Trigger, error) {
	t := &domain.Trigger{
		ID:            pt.ID,
		Pattern:       pt.Pattern,
		Actions:       compileActions(pt.Actions),
		Enabled:       pt.Enabled,
		Priority:      pt.Priority,
		CaseSensitive: pt.CaseSensitive,
	}
	if !pattern.LooksLikeWildcard(pt.Pattern) {
		return t, nil
	}
	compiled, err := pattern.Compile(pt.Pattern)
	if err != nil {
		return nil, fmt.Errorf("script: trigger %s pattern compile: %w", pt.ID, err)
	}
	re := compiled.Regex
	if !pt.CaseSensitive {
		re, err = regexp.Compile("(?i)" + compiled.Regex.String())
		if err != nil {
			return nil, fmt.Errorf("script: trigger %s case-insensitive recompile: %w", pt.ID, err)
		}
	}
	t.Regex = re
	t.NumCaps = compiled.NumCaptures
	return t, nil
}

// compileActions converts a persisted actions[] array into its live
// form; the two shapes are field-for-field identical, this just drops
// the wire-stable wrapper.
func compileActions(pas []domain.PersistedTriggerAction) []domain.TriggerAction {
	if len(pas) == 0 {
		return nil
	}
	actions := make([]domain.TriggerAction, len(pas))
	for i, pa := range pas {
		actions[i] = domain.TriggerAction{
			Kind:                pa.Kind,
			Command:             pa.Command,
			Replacement:         pa.Replacement,
			FGColor:             pa.FGColor,
			BGColor:             pa.BGColor,
			Blink:               pa.Blink,
			Underline:           pa.Underline,
			SoundName:           pa.SoundName,
			DiscordWebhookURL:   pa.DiscordWebhookURL,
			DiscordMessage:      pa.DiscordMessage,
			ChatMonitorMessage:  pa.ChatMonitorMessage,
			ChatMonitorChannel:  pa.ChatMonitorChannel,
		}
	}
	return actions
}

// CompileAlias turns a persisted alias definition into a live Alias,
// compiling its invocation pattern when MatchKind calls for a regex
// (AliasRegex) or MUD-wildcard (AliasTintin) comparison.
func CompileAlias(pa domain.PersistedAlias) (*domain.Alias, error) {
	a := &domain.Alias{
		ID:         pa.ID,
		Invocation: pa.Invocation,
		MatchKind:  pa.MatchKind,
		Expansion:  pa.Expansion,
		Enabled:    pa.Enabled,
		Priority:   pa.Priority,
	}
	switch pa.MatchKind {
	case domain.AliasRegex:
		re, err := regexp.Compile(pa.Invocation)
		if err != nil {
			return nil, fmt.Errorf("script: alias %s regex compile: %w", pa.ID, err)
		}
		a.Regex = re
	case domain.AliasTintin:
		// Anchored at start only; text remaining after the match
		// becomes space-delimited %N args (spec §4.3.2 rule 3).
		compiled, err := pattern.Compile("^" + pa.Invocation)
		if err != nil {
			return nil, fmt.Errorf("script: alias %s tintin pattern compile: %w", pa.ID, err)
		}
		a.Regex = compiled.Regex
	}
	return a, nil
}
