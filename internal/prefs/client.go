// Package prefs is the HTTP client for the external preferences and
// persistent-session storage API (spec §3.5, §4.6, §6.3): triggers,
// aliases, tickers, variables, Discord channel prefs, and the
// restart-survival session snapshot all live there, not in a local
// database. Grounded on the teacher's retry-with-backoff shape in
// internal/container/ttl.go, applied to HTTP calls instead of SQLite
// writes.
package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// Client talks to the external preferences/storage API over HTTP,
// authenticating with an admin bearer key (spec §6.3).
type Client struct {
	baseURL    string
	adminKey   string
	httpClient *http.Client
	deadline   time.Duration
	maxRetries int
	baseDelay  time.Duration
}

// New returns a Client pointed at baseURL, authenticating with
// adminKey via the X-Admin-Key header.
func New(baseURL, adminKey string, deadline time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		adminKey:   adminKey,
		httpClient: &http.Client{},
		deadline:   deadline,
		maxRetries: 3,
		baseDelay:  50 * time.Millisecond,
	}
}

// CharacterPrefs is the per-character scripting/prefs payload stored
// and retrieved from /api/preferences (spec §6.3).
type CharacterPrefs struct {
	Triggers  []domain.PersistedTrigger `json:"triggers"`
	Aliases   []domain.PersistedAlias   `json:"aliases"`
	Tickers   []domain.PersistedTicker  `json:"tickers"`
	Variables map[string]string         `json:"variables"`
	Functions map[string]string         `json:"functions"`
}

// GetPreferences fetches the saved scripting state for (userID, characterID).
func (c *Client) GetPreferences(ctx context.Context, userID, characterID string) (CharacterPrefs, error) {
	var out CharacterPrefs
	path := fmt.Sprintf("/api/preferences?user_id=%s&character_id=%s", userID, characterID)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SavePreferences persists p for (userID, characterID).
func (c *Client) SavePreferences(ctx context.Context, userID, characterID string, p CharacterPrefs) error {
	path := fmt.Sprintf("/api/preferences?user_id=%s&character_id=%s", userID, characterID)
	return c.doJSON(ctx, http.MethodPut, path, p, nil)
}

// SavePersistentSessions uploads the full restart-survival snapshot
// described in spec §4.6 (one record per live session).
func (c *Client) SavePersistentSessions(ctx context.Context, records []domain.PersistenceRecord) error {
	return c.doJSON(ctx, http.MethodPut, "/api/persistent_sessions", records, nil)
}

// LoadPersistentSessions fetches the snapshot written by a previous
// process generation's shutdown handler (spec §4.6.1 boot restore).
func (c *Client) LoadPersistentSessions(ctx context.Context) ([]domain.PersistenceRecord, error) {
	var out []domain.PersistenceRecord
	err := c.doJSON(ctx, http.MethodGet, "/api/persistent_sessions", nil, &out)
	return out, err
}

// CharacterSummary is one entry of the /api/characters listing returned
// by ListCharacters. The auth path does not call it; a browser's claimed
// (userID, characterID) pair is not checked against this listing.
type CharacterSummary struct {
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`
	IsWizard    bool   `json:"is_wizard"`
}

// ListCharacters returns every character owned by userID.
func (c *Client) ListCharacters(ctx context.Context, userID string) ([]CharacterSummary, error) {
	var out []CharacterSummary
	path := fmt.Sprintf("/api/characters?user_id=%s", userID)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// characterPasswordResponse is the /api/characters?action=get_password_admin
// response shape (spec §6.3).
type characterPasswordResponse struct {
	Password string `json:"password"`
}

// GetCharacterPassword fetches the stored login password for a
// character, used to drive the direct-mode auto-login state machine
// after a restart (spec §4.6 step 5, §4.6.1).
func (c *Client) GetCharacterPassword(ctx context.Context, userID, characterID string) (string, error) {
	var out characterPasswordResponse
	path := fmt.Sprintf("/api/characters?action=get_password_admin&user_id=%s&character_id=%s", userID, characterID)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out.Password, err
}

// AppendServerLog ships one line of raw game output to the external
// server-log sink (spec §6.3's /api/server_logs). No caller in this
// module uses it.
func (c *Client) AppendServerLog(ctx context.Context, characterID, line string) error {
	body := map[string]string{"character_id": characterID, "line": line}
	return c.doJSON(ctx, http.MethodPost, "/api/server_logs", body, nil)
}

// DiscordProxyMessage is the payload forwarded to /api/discord_proxy
// (spec §6.3) so the proxy never holds Discord webhook credentials
// directly — the external service owns webhook delivery.
type DiscordProxyMessage struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
	Content    string `json:"content"`
}

// SendDiscordMessage relays msg through the external Discord proxy endpoint.
func (c *Client) SendDiscordMessage(ctx context.Context, msg DiscordProxyMessage) error {
	return c.doJSON(ctx, http.MethodPost, "/api/discord_proxy", msg, nil)
}

// doJSON performs one HTTP round-trip with JSON request/response
// bodies, retrying transient (5xx / network) failures with
// exponential backoff (at most three attempts, sleeping 50ms and then
// 100ms between them), the same shape as the
// teacher's updateContainerIDWithRetry.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respInto any) error {
	var bodyBytes []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		bodyBytes = b
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.deadline)
		status, err := c.doOnce(callCtx, method, path, bodyBytes, respInto)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(status, err) {
			return err
		}
		if attempt < c.maxRetries-1 {
			time.Sleep(c.baseDelay * time.Duration(1<<attempt))
		}
	}
	return fmt.Errorf("prefs API %s %s failed after %d attempts: %w", method, path, c.maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, respInto any) (status int, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Admin-Key", c.adminKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("prefs API returned %d: %s", resp.StatusCode, string(data))
	}
	if respInto != nil {
		if err := json.NewDecoder(resp.Body).Decode(respInto); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func isRetryable(status int, err error) bool {
	if err == nil {
		return false
	}
	if status == 0 {
		return true // network-level failure
	}
	return status >= 500
}
