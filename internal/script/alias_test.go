package script

import (
	"testing"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

func TestSplitCommandsRespectsBraces(t *testing.T) {
	got := SplitCommands("say {a;b};look")
	want := []string{"say {a;b}", "look"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("part %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitCommandsEscapedSemicolonNotSplit(t *testing.T) {
	got := SplitCommands(`say hi\;there`)
	if len(got) != 1 {
		t.Fatalf("expected 1 part, got %v", got)
	}
}

func TestExpandAutoAppendExactMatch(t *testing.T) {
	state := &domain.ScriptState{
		Variables: map[string]string{},
		Aliases: []*domain.Alias{
			{ID: "a1", Invocation: "info", MatchKind: domain.AliasExact, Expansion: "priest", Enabled: true},
		},
	}
	res := Expand(state, "info general", time.Now(), RunDirective)
	if len(res.UpstreamCommands) != 1 || res.UpstreamCommands[0] != "priest general" {
		t.Errorf("got %v", res.UpstreamCommands)
	}
}

func TestExpandNoAutoAppendWhenPlaceholderPresent(t *testing.T) {
	state := &domain.ScriptState{
		Variables: map[string]string{},
		Aliases: []*domain.Alias{
			{ID: "a1", Invocation: "greet", MatchKind: domain.AliasExact, Expansion: "say hi $1", Enabled: true},
		},
	}
	res := Expand(state, "greet bob", time.Now(), RunDirective)
	if len(res.UpstreamCommands) != 1 || res.UpstreamCommands[0] != "say hi bob" {
		t.Errorf("got %v", res.UpstreamCommands)
	}
}

func TestExpandDirectiveMathHandledServerSide(t *testing.T) {
	state := &domain.ScriptState{Variables: map[string]string{}, VarModifiedAt: map[string]time.Time{}}
	res := Expand(state, "#math hp 10+5", time.Now(), RunDirective)
	if len(res.UpstreamCommands) != 0 || len(res.ClientCommands) != 0 {
		t.Errorf("expected directive fully consumed, got %+v", res)
	}
	if state.Variables["hp"] != "15" {
		t.Errorf("expected hp=15, got %q", state.Variables["hp"])
	}
}

func TestExpandUnknownDirectiveForwardedToClient(t *testing.T) {
	state := &domain.ScriptState{Variables: map[string]string{}}
	res := Expand(state, "#showme hello", time.Now(), RunDirective)
	if len(res.ClientCommands) != 1 || res.ClientCommands[0] != "#showme hello" {
		t.Errorf("got %+v", res)
	}
}

func TestExpandRegexAlias(t *testing.T) {
	state := &domain.ScriptState{
		Variables: map[string]string{},
		Aliases: []*domain.Alias{
			mustCompileAlias(t, domain.PersistedAlias{ID: "a1", Invocation: `^kill (\w+)$`, MatchKind: domain.AliasRegex, Expansion: "attack $1 with sword", Enabled: true}),
		},
	}
	res := Expand(state, "kill goblin", time.Now(), RunDirective)
	if len(res.UpstreamCommands) != 1 || res.UpstreamCommands[0] != "attack goblin with sword" {
		t.Errorf("got %v", res.UpstreamCommands)
	}
}

func mustCompileAlias(t *testing.T, pa domain.PersistedAlias) *domain.Alias {
	t.Helper()
	a, err := CompileAlias(pa)
	if err != nil {
		t.Fatalf("CompileAlias: %v", err)
	}
	return a
}

func TestExpandAliasPriorityOrder(t *testing.T) {
	state := &domain.ScriptState{
		Variables: map[string]string{},
		Aliases: []*domain.Alias{
			{ID: "low", Invocation: "k", MatchKind: domain.AliasStartsWith, Expansion: "kill $*", Enabled: true, Priority: 5},
			{ID: "high", Invocation: "k", MatchKind: domain.AliasStartsWith, Expansion: "kneel $*", Enabled: true, Priority: 1},
		},
	}
	res := Expand(state, "k goblin", time.Now(), RunDirective)
	if len(res.UpstreamCommands) != 1 || res.UpstreamCommands[0] != "kneel goblin" {
		t.Errorf("expected the lower-priority-number alias to win, got %v", res.UpstreamCommands)
	}
}

func TestExpandRaceRuleStampsTimestamp(t *testing.T) {
	state := &domain.ScriptState{Variables: map[string]string{}, VarModifiedAt: map[string]time.Time{}}
	now := time.Now()
	Expand(state, "#var zone forest", now, RunDirective)
	if state.VarModifiedAt["zone"].IsZero() {
		t.Error("expected VarModifiedAt to be stamped")
	}
}
