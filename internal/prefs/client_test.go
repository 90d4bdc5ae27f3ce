package prefs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetPreferencesRoundtrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Key") != "secret" {
			t.Errorf("expected admin key header")
		}
		if r.URL.Path != "/api/preferences" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(CharacterPrefs{Variables: map[string]string{"zone": "forest"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 2*time.Second)
	p, err := c.GetPreferences(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if p.Variables["zone"] != "forest" {
		t.Errorf("got %+v", p)
	}
}

func TestDoJSONRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(CharacterPrefs{})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 2*time.Second)
	c.baseDelay = time.Millisecond
	_, err := c.GetPreferences(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoJSONDoesNotRetryOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 2*time.Second)
	_, err := c.GetPreferences(context.Background(), "u1", "c1")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected no retry on 4xx, got %d calls", calls)
	}
}
