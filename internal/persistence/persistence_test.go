package persistence

import (
	"testing"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

func TestAutoLoginHappyPath(t *testing.T) {
	now := time.Now()
	a := NewAutoLogin("gandalf", "hunter2", now)

	written, terminal := a.Feed("", now)
	if terminal || written != nil {
		t.Fatalf("expected no-op on empty input, got %v %v", written, terminal)
	}

	written, terminal = a.Feed("Enter your character name: ", now)
	if terminal || string(written) != "gandalf\r\n" {
		t.Fatalf("got %q terminal=%v", written, terminal)
	}

	written, terminal = a.Feed("Password: ", now)
	if terminal || string(written) != "hunter2\r\n" {
		t.Fatalf("got %q terminal=%v", written, terminal)
	}

	_, terminal = a.Feed("Last login: today\r\nWelcome back, Gandalf", now)
	if !terminal || a.State != StateLoggedIn {
		t.Fatalf("expected login success, state=%v", a.State)
	}
}

func TestAutoLoginFailureDetection(t *testing.T) {
	a := NewAutoLogin("gandalf", "wrong", time.Now())
	_, terminal := a.Feed("Bad password.", time.Now())
	if !terminal || a.State != StateFailed {
		t.Fatalf("expected failure state, got %v", a.State)
	}
}

func TestAutoLoginHardTimeout(t *testing.T) {
	now := time.Now()
	a := NewAutoLogin("gandalf", "hunter2", now)
	later := now.Add(AutoLoginTimeout + time.Second)
	_, terminal := a.Feed("", later)
	if !terminal || a.State != StateFailed {
		t.Fatalf("expected timeout failure, got %v", a.State)
	}
}

func TestBuildShutdownRecordsSkipsSessionsWithoutUpstream(t *testing.T) {
	withUpstream := &domain.Session{Token: "t1", Script: domain.NewScriptState()}
	withUpstream.Upstream = fakeUpstream{}
	noUpstream := &domain.Session{Token: "t2", Script: domain.NewScriptState()}

	records := BuildShutdownRecords([]*domain.Session{withUpstream, noUpstream}, time.Now(), nil)
	if len(records) != 1 || records[0].Token != "t1" {
		t.Fatalf("got %+v", records)
	}
	if !withUpstream.ServerRestarting {
		t.Error("expected ServerRestarting to be set")
	}
}

func TestFilterRestorableDropsStaleRecords(t *testing.T) {
	now := time.Now()
	records := []domain.PersistenceRecord{
		{Token: "fresh", SavedAt: now.Add(-10 * time.Second)},
		{Token: "stale", SavedAt: now.Add(-200 * time.Second)},
	}
	got := FilterRestorable(records, now, nil)
	if len(got) != 1 || got[0].Token != "fresh" {
		t.Fatalf("got %+v", got)
	}
}

func TestFilterRestorableSkipsAlreadyActive(t *testing.T) {
	now := time.Now()
	records := []domain.PersistenceRecord{
		{Token: "t1", UserID: "u1", CharacterID: "c1", SavedAt: now},
	}
	got := FilterRestorable(records, now, func(userID, characterID string) bool { return true })
	if len(got) != 0 {
		t.Fatalf("expected record to be skipped, got %+v", got)
	}
}

func TestBuildShutdownRecordsRoundTripsScriptingState(t *testing.T) {
	sess := &domain.Session{Token: "t1", Script: domain.NewScriptState()}
	sess.Upstream = fakeUpstream{}
	sess.Script.Triggers = []*domain.Trigger{{
		ID: "trig1", Pattern: "hungry", Enabled: true, Priority: 3,
		Actions: []domain.TriggerAction{{Kind: domain.ActionCommand, Command: "eat bread"}},
	}}
	sess.Script.Aliases = []*domain.Alias{{
		ID: "al1", Invocation: "k", MatchKind: domain.AliasStartsWith, Expansion: "kill $*", Enabled: true, Priority: 2,
	}}
	sess.Script.Tickers = []*domain.Ticker{{
		ID: "tick1", Interval: 30 * time.Second, Command: "look", Enabled: true,
	}}

	records := BuildShutdownRecords([]*domain.Session{sess}, time.Now(), nil)
	if len(records) != 1 {
		t.Fatalf("got %+v", records)
	}
	rec := records[0]
	if len(rec.Triggers) != 1 || rec.Triggers[0].ID != "trig1" || len(rec.Triggers[0].Actions) != 1 {
		t.Fatalf("expected trigger to round-trip, got %+v", rec.Triggers)
	}
	if len(rec.Aliases) != 1 || rec.Aliases[0].ID != "al1" || rec.Aliases[0].Priority != 2 {
		t.Fatalf("expected alias to round-trip, got %+v", rec.Aliases)
	}
	if len(rec.Tickers) != 1 || rec.Tickers[0].ID != "tick1" {
		t.Fatalf("expected ticker to round-trip, got %+v", rec.Tickers)
	}
}

type fakeUpstream struct{}

func (fakeUpstream) Write(p []byte) (int, error) { return len(p), nil }
func (fakeUpstream) Close() error                { return nil }
