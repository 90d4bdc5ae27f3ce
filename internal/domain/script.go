package domain

import (
	"regexp"
	"time"
)

// TriggerActionKind enumerates the tagged-union action kinds a trigger
// can carry (spec §3.2). A single Trigger fires every action in its
// Actions slice in order, so one trigger can gag, highlight, and fire
// a command all from the same match.
type TriggerActionKind string

const (
	ActionGag         TriggerActionKind = "gag"
	ActionHighlight   TriggerActionKind = "highlight"
	ActionSubstitute  TriggerActionKind = "substitute"
	ActionCommand     TriggerActionKind = "command"
	ActionSound       TriggerActionKind = "sound"
	ActionDiscord     TriggerActionKind = "discord"
	ActionChatMonitor TriggerActionKind = "chatmon"
)

// TriggerAction is one entry of a trigger's tagged-union action list
// (spec §3.2): `gag`, `highlight{fgColor?,bgColor?,blink?,underline?}`,
// `command{text}`, `sound{name}`, `substitute{replacement}`,
// `discord{webhookUrl,message}`, `chatmon{message,channel}`. Only the
// fields relevant to Kind are populated.
type TriggerAction struct {
	Kind TriggerActionKind

	// ActionCommand
	Command string

	// ActionSubstitute
	Replacement string

	// ActionHighlight
	FGColor   string
	BGColor   string
	Blink     bool
	Underline bool

	// ActionSound
	SoundName string

	// ActionDiscord
	DiscordWebhookURL string
	DiscordMessage    string

	// ActionChatMonitor
	ChatMonitorMessage string
	ChatMonitorChannel string
}

// Trigger is a compiled pattern plus the actions to take when a line
// matches it (spec §3.2, §4.3.1).
type Trigger struct {
	ID      string
	Pattern string // original MUD-wildcard source, kept for display/persistence
	Regex   *regexp.Regexp
	NumCaps int
	Actions []TriggerAction
	Enabled bool
	Priority int

	// CaseSensitive mirrors the MUD-pattern flag (spec §4.1); false by
	// default (wildcard patterns match case-insensitively). It applies
	// to wildcard patterns only: literal patterns always match as a
	// case-sensitive substring.
	CaseSensitive bool

	// Runaway guard state (spec §4.3.1): disabled after 50 fires in 2s.
	Loop LoopState
	Disabled bool
}

// AliasMatchKind enumerates how an alias's invocation text is compared
// against a command line (spec §4.3.2).
type AliasMatchKind string

const (
	AliasExact      AliasMatchKind = "exact"
	AliasStartsWith AliasMatchKind = "startswith"
	AliasRegex      AliasMatchKind = "regex"
	AliasTintin     AliasMatchKind = "tintin" // %1.. positional wildcard style
)

// Alias rewrites a typed command line into one or more substitute
// command lines before they reach the upstream socket (spec §3.3, §4.3.2).
type Alias struct {
	ID         string
	Invocation string
	MatchKind  AliasMatchKind
	Regex      *regexp.Regexp // compiled when MatchKind is AliasRegex or AliasTintin
	Expansion  string         // may reference %1.. / $1.. substitutions
	Enabled    bool

	// Priority orders alias matching (spec §3.3, §4.3.2 rule 3): lower
	// fires first. Defaults to 0 when unset.
	Priority int
}

// Ticker fires its command on an interval, independent of any upstream
// traffic (spec §3.4, §4.3.4).
type Ticker struct {
	ID       string
	Interval time.Duration
	Command  string
	Enabled  bool
	NextFire time.Time

	// RepeatRemaining is not read by the Scheduler or the handler; the
	// "#N <cmd>" shorthand (spec §4.3.4) is expanded on each fire by
	// script.ExpandRepeatShorthand instead.
	RepeatRemaining int
}

// PersistenceRecord is the serialized snapshot of a session written to
// the external preferences/storage API on shutdown and read back on
// boot (spec §3.5, §4.6).
type PersistenceRecord struct {
	Token         string    `json:"token"`
	UserID        string    `json:"user_id"`
	CharacterID   string    `json:"character_id"`
	CharacterName string    `json:"character_name"`
	ServerLabel   string    `json:"server_label"` // Server.Label()
	ServerHost    string    `json:"server_host"`
	ServerPort    int       `json:"server_port"`
	IsWizard      bool      `json:"is_wizard"`
	SavedAt       time.Time `json:"saved_at"`

	Triggers []PersistedTrigger `json:"triggers"`
	Aliases  []PersistedAlias   `json:"aliases"`
	Tickers  []PersistedTicker  `json:"tickers"`

	Variables map[string]string `json:"variables"`

	Discord DiscordChannelState `json:"discord"`

	// BridgeToken, when non-empty, means a bridge relay still holds the
	// live upstream TCP socket for this session (spec §4.5/§4.6.1).
	BridgeToken string `json:"bridge_token,omitempty"`
}

// PersistedTrigger/PersistedAlias/PersistedTicker are the wire-stable
// (pre-compile) forms stored via internal/prefs; internal/script
// recompiles them back into Trigger/Alias/Ticker on restore.
type PersistedTrigger struct {
	ID            string                   `json:"id"`
	Pattern       string                   `json:"pattern"`
	Actions       []PersistedTriggerAction `json:"actions"`
	Enabled       bool                     `json:"enabled"`
	Priority      int                      `json:"priority"`
	CaseSensitive bool                     `json:"case_sensitive"`
}

// PersistedTriggerAction is the wire-stable form of TriggerAction; only
// the fields relevant to Kind are populated.
type PersistedTriggerAction struct {
	Kind               TriggerActionKind `json:"kind"`
	Command            string            `json:"command,omitempty"`
	Replacement        string            `json:"replacement,omitempty"`
	FGColor            string            `json:"fg_color,omitempty"`
	BGColor            string            `json:"bg_color,omitempty"`
	Blink              bool              `json:"blink,omitempty"`
	Underline          bool              `json:"underline,omitempty"`
	SoundName          string            `json:"sound_name,omitempty"`
	DiscordWebhookURL  string            `json:"discord_webhook_url,omitempty"`
	DiscordMessage     string            `json:"discord_message,omitempty"`
	ChatMonitorMessage string            `json:"chat_monitor_message,omitempty"`
	ChatMonitorChannel string            `json:"chat_monitor_channel,omitempty"`
}

type PersistedAlias struct {
	ID         string         `json:"id"`
	Invocation string         `json:"invocation"`
	MatchKind  AliasMatchKind `json:"match_kind"`
	Expansion  string         `json:"expansion"`
	Enabled    bool           `json:"enabled"`
	Priority   int            `json:"priority"`
}

type PersistedTicker struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval"`
	Command  string        `json:"command"`
	Enabled  bool          `json:"enabled"`
}
