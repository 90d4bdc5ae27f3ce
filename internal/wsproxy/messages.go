package wsproxy

import "encoding/json"

// inboundEnvelope is the generic shape of every browser->proxy frame
// (spec §6.1): a `type` discriminator plus a type-specific payload
// decoded lazily via json.RawMessage, the same two-pass decode shape
// the teacher's wsMessage handling uses for its smaller message set.
type inboundEnvelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

type authPayload struct {
	Token         string `json:"token"`
	UserID        string `json:"userId"`
	CharacterID   string `json:"characterId"`
	CharacterName string `json:"characterName"`
	IsWizard      bool   `json:"isWizard"`
}

type commandPayload struct {
	Command string `json:"command"`
	Raw     bool   `json:"raw"`
}

type triggerWire struct {
	ID            string       `json:"id"`
	Pattern       string       `json:"pattern"`
	Actions       []actionWire `json:"actions"`
	Enabled       bool         `json:"enabled"`
	Priority      int          `json:"priority"`
	CaseSensitive bool         `json:"caseSensitive"`
}

// actionWire is one entry of a trigger's tagged-union actions[] array
// (spec §3.2): `type` discriminates gag/highlight/command/sound/
// substitute/discord/chatmon, with only the fields relevant to that
// type populated.
type actionWire struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Replacement string `json:"replacement,omitempty"`
	FGColor     string `json:"fgColor,omitempty"`
	BGColor     string `json:"bgColor,omitempty"`
	Blink       bool   `json:"blink,omitempty"`
	Underline   bool   `json:"underline,omitempty"`
	Name        string `json:"name,omitempty"`
	WebhookURL  string `json:"webhookUrl,omitempty"`
	Message     string `json:"message,omitempty"`
	Channel     string `json:"channel,omitempty"`
}

type setTriggersPayload struct {
	Triggers []triggerWire `json:"triggers"`
}

type aliasWire struct {
	ID         string `json:"id"`
	Invocation string `json:"invocation"`
	MatchKind  string `json:"matchKind"`
	Expansion  string `json:"expansion"`
	Enabled    bool   `json:"enabled"`
	Priority   int    `json:"priority"`
}

type setAliasesPayload struct {
	Aliases []aliasWire `json:"aliases"`
}

type tickerWire struct {
	ID              string `json:"id"`
	IntervalMS      int64  `json:"intervalMs"`
	Command         string `json:"command"`
	Enabled         bool   `json:"enabled"`
}

type setTickersPayload struct {
	Tickers []tickerWire `json:"tickers"`
}

type setVariablesPayload struct {
	Variables map[string]string `json:"variables"`
}

type setFunctionsPayload struct {
	Functions map[string]string `json:"functions"`
}

type setMIPPayload struct {
	Enabled bool   `json:"enabled"`
	MIPID   string `json:"mipId"`
	Debug   bool   `json:"debug"`
}

type discordChannelPrefWire struct {
	Sound      bool   `json:"sound"`
	Hidden     bool   `json:"hidden"`
	Discord    bool   `json:"discord"`
	WebhookURL string `json:"webhookUrl"`
}

type setDiscordPrefsPayload struct {
	ChannelPrefs map[string]discordChannelPrefWire `json:"channelPrefs"`
	Username     string                             `json:"username"`
}

type setServerPayload struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type testLinePayload struct {
	Line string `json:"line"`
}

// outbound is the generic browser<-proxy envelope (spec §6.1's
// outbound type list). Fields are tagged omitempty so each outbound
// helper only sends what it sets.
type outbound struct {
	Type         string             `json:"type"`
	BridgeMode   bool               `json:"bridgeMode,omitempty"`
	MudConnected bool               `json:"mudConnected,omitempty"`
	Variables    map[string]string  `json:"variables,omitempty"`
	Line         string             `json:"line,omitempty"`
	Highlight    bool               `json:"highlight,omitempty"`
	Sound        bool               `json:"sound,omitempty"`
	Message      string             `json:"message,omitempty"`
	Subtype      string             `json:"subtype,omitempty"`
	Timestamp    int64              `json:"timestamp,omitempty"`
	Stats        any                `json:"stats,omitempty"`
	ChatType     string             `json:"chatType,omitempty"`
	Channel      string             `json:"channel,omitempty"`
	RawText      string             `json:"rawText,omitempty"`
	MsgType      string             `json:"msgType,omitempty"`
	MsgData      string             `json:"msgData,omitempty"`
	Command      string             `json:"command,omitempty"`
	TriggerID    string             `json:"triggerId,omitempty"`
}
