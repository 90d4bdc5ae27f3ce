// Package domain contains the core value types shared across the proxy:
// sessions, triggers, aliases, tickers, and the persistence record that
// survives a restart. These are plain structs, deliberately free of
// behavior beyond small derived-value helpers, the way the teacher's
// own domain package (internal/domain/user.go, session.go) stays thin
// and leaves orchestration to the owning packages.
package domain

import (
	"sync"
	"time"
)

// Server identifies an upstream MUD, constrained to the allowlist in
// internal/config.
type Server struct {
	Host string
	Port int
}

// Label is the short server identifier used in persistence records
// (spec §3.5): "3k" or "3s".
func (s Server) Label() string {
	switch s.Host {
	case "3k.org":
		return "3k"
	case "3scapes.org":
		return "3s"
	default:
		return s.Host
	}
}

// OutboundMessage is one JSON-shaped value destined for the browser,
// either written immediately or appended to a session's outbound
// buffer/chat ring while no browser is attached.
type OutboundMessage struct {
	Type string
	// Payload is the fully-formed value to be marshaled as the
	// message body; kept as interface{} so every outbound type in
	// spec §6.1 can share one buffer element type.
	Payload any
	IsChat  bool
}

// DiscordChannelPrefs are the per-channel notification settings a
// browser can configure via set_discord_prefs (spec §6.1).
type DiscordChannelPrefs struct {
	Sound      bool   `json:"sound"`
	Hidden     bool   `json:"hidden"`
	Discord    bool   `json:"discord"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// SidebandStats is the parsed snapshot of the most recent MIP "FFF"
// status frame plus the room/exits/gauge labels from BAD/DDD/BBA..BBD
// (spec §4.2.1).
type SidebandStats struct {
	HPCurrent, HPMax         int
	SPCurrent, SPMax         int
	GaugeACurrent, GaugeAMax int
	GaugeBCurrent, GaugeBMax int
	GaugeALabel, GaugeBLabel string
	EnemyName                string
	EnemyPercent             int
	CombatRound              int
	RoomName                 string
	Exits                    []string
	GuildLine1, GuildLine2   string
	GuildVars                map[string]string
	UptimeDays               float64
	RebootDays               float64
}

// LoopState is the runaway-trigger tracker described in spec §4.3.1:
// a trigger disabled itself once it fires 50 times within a 2s window.
type LoopState struct {
	Count     int
	FirstFire time.Time
}

// LineState is the per-session line-pipeline carryover described in
// spec §4.2: a partial line buffer, the packet-patch timer handle, and
// the last unterminated SGR sequence to prefix onto the next line.
type LineState struct {
	Partial       string
	PatchTimer    *time.Timer
	ANSICarry     string
	SidebandState SidebandState
}

// SidebandState is the per-session MIP demux configuration (spec §3.1).
type SidebandState struct {
	Enabled       bool
	CorrelationID string
	Debug         bool
	Stats         SidebandStats
}

// ScriptState groups the scripting-engine tables a session carries
// (spec §3.1): triggers, aliases, tickers, variables with server-mod
// timestamps for the race rule (spec §5), and user-defined functions.
type ScriptState struct {
	Triggers  []*Trigger
	Aliases   []*Alias
	Tickers   []*Ticker
	Variables map[string]string
	// VarModifiedAt records, per variable key, the last time an
	// inline directive (#var/#math/#unvar/...) wrote it server-side.
	// Used by the race rule in spec §5 / §4.3.3.
	VarModifiedAt map[string]time.Time
	Functions     map[string]string
}

// NewScriptState returns an empty, ready-to-use ScriptState.
func NewScriptState() ScriptState {
	return ScriptState{
		Variables:     make(map[string]string),
		VarModifiedAt: make(map[string]time.Time),
		Functions:     make(map[string]string),
	}
}

// Session is the central entity described in spec §3.1. Mutation of any
// field must happen under Mu (spec §5: "a session is the unit of
// serialization").
type Session struct {
	Mu sync.Mutex

	Token string

	UserID          string
	CharacterID     string
	CharacterName   string
	IsWizard        bool
	TargetServer    Server

	// Browser and Upstream are nil when not attached/connected; their
	// lifecycles are independent (spec §3.1).
	Browser  BrowserSocket
	Upstream UpstreamSocket

	DisconnectedAt *time.Time

	OutboundBuffer *Ring[OutboundMessage]
	ChatRing       *Ring[OutboundMessage]

	// OutboundOverflowed latches true the moment OutboundBuffer first
	// drops an entry while no browser is attached (spec §3.1/§3.6). A
	// pure resume consumes and clears it, announcing the truncation
	// instead of replaying the dropped mud-text (spec §4.4.3).
	OutboundOverflowed bool

	Line LineState

	Script ScriptState

	Discord DiscordChannelState

	ExplicitDisconnect bool
	Closed             bool
	ServerRestarting   bool
	AliasesSynced      bool
	PendingBridgeResume bool
	BridgeModeInit      bool
	SuppressAutoLoginUntil time.Time

	// CommandQueue holds commands received before the first
	// set_aliases arrives (spec §4.4.5).
	CommandQueue []string
	QueueFlushTimer *time.Timer

	Loops map[string]*LoopState

	CreatedAt time.Time
}

// DiscordChannelState is the per-channel prefs plus the username
// override from set_discord_prefs (spec §6.1, §3.1).
type DiscordChannelState struct {
	ChannelPrefs map[string]DiscordChannelPrefs `json:"channel_prefs"`
	Username     string                         `json:"username,omitempty"`
}

// BrowserSocket and UpstreamSocket are narrow interfaces so internal/domain
// stays free of the websocket/net imports; internal/wsproxy and
// internal/bridge supply the concrete types.
type BrowserSocket interface {
	WriteJSON(v any) error
	Close(reason string) error
}

type UpstreamSocket interface {
	Write(p []byte) (int, error)
	Close() error
}

// HasBrowser reports whether a browser is currently attached.
func (s *Session) HasBrowser() bool {
	return s.Browser != nil
}

// HasUpstream reports whether an upstream socket/bridge connection is live.
func (s *Session) HasUpstream() bool {
	return s.Upstream != nil
}

// IdleSince returns how long the browser has been detached, or 0 if attached.
func (s *Session) IdleSince(now time.Time) time.Duration {
	if s.DisconnectedAt == nil {
		return 0
	}
	return now.Sub(*s.DisconnectedAt)
}

// UserCharKey is the (userID, characterID) key used for single-owner
// enforcement (spec §3.6, §4.4.2).
type UserCharKey struct {
	UserID      string
	CharacterID string
}
