package script

import (
	"sync"
	"testing"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

func TestExpandRepeatShorthandBasic(t *testing.T) {
	cmds, matched := ExpandRepeatShorthand("#3 wave")
	if !matched || len(cmds) != 3 || cmds[1] != "wave" {
		t.Fatalf("got %v matched=%v", cmds, matched)
	}
}

func TestExpandRepeatShorthandRejectsNonMatch(t *testing.T) {
	if _, matched := ExpandRepeatShorthand("#math gold 1+1"); matched {
		t.Error("expected #math to not be treated as repeat shorthand")
	}
	if _, matched := ExpandRepeatShorthand("look"); matched {
		t.Error("expected plain command to not match")
	}
}

func TestSchedulerFiresOnInterval(t *testing.T) {
	var mu sync.Mutex
	fired := make(map[string]int)
	s := NewScheduler(func(t *domain.Ticker) {
		mu.Lock()
		fired[t.ID]++
		mu.Unlock()
	})
	defer s.Clear()

	s.Rebuild([]*domain.Ticker{
		{ID: "t1", Interval: 10 * time.Millisecond, Command: "wave", Enabled: true},
	})

	time.Sleep(55 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired["t1"] < 2 {
		t.Errorf("expected at least 2 fires, got %d", fired["t1"])
	}
}

func TestSchedulerRebuildReplacesTimers(t *testing.T) {
	s := NewScheduler(func(t *domain.Ticker) {})
	s.Rebuild([]*domain.Ticker{{ID: "t1", Interval: time.Second, Enabled: true}})
	s.mu.Lock()
	_, present := s.tickers["t1"]
	s.mu.Unlock()
	if !present {
		t.Fatal("expected t1 to be scheduled")
	}

	s.Rebuild([]*domain.Ticker{{ID: "t2", Interval: time.Second, Enabled: true}})
	s.mu.Lock()
	_, oldPresent := s.tickers["t1"]
	_, newPresent := s.tickers["t2"]
	s.mu.Unlock()
	if oldPresent {
		t.Error("expected t1 to be cleared on rebuild")
	}
	if !newPresent {
		t.Error("expected t2 to be scheduled after rebuild")
	}
	s.Clear()
}

func TestSchedulerClearStopsEverything(t *testing.T) {
	s := NewScheduler(func(t *domain.Ticker) {})
	s.Rebuild([]*domain.Ticker{{ID: "t1", Interval: time.Second, Enabled: true}})
	s.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tickers) != 0 {
		t.Error("expected no tickers after Clear")
	}
}

func TestSchedulerSkipsDisabledTickers(t *testing.T) {
	s := NewScheduler(func(t *domain.Ticker) {})
	defer s.Clear()
	s.Rebuild([]*domain.Ticker{{ID: "t1", Interval: time.Second, Enabled: false}})
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tickers) != 0 {
		t.Error("expected disabled ticker to not be scheduled")
	}
}
