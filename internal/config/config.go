// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults, matching the teacher's getEnv* helper family and Validate
// pass. An optional YAML allowlist file supplements the env vars with
// the set of upstream MUD hosts/ports the proxy is permitted to dial
// (spec §6.2).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// TimeoutConfig holds the durations spec §4.2/§4.4/§4.5/§4.6 name.
type TimeoutConfig struct {
	IdleSession        time.Duration // spec §4.4.4
	IdleSweepInterval  time.Duration
	PacketPatch        time.Duration // spec §4.2
	QueueFlushSafety   time.Duration // spec §4.4.5
	SecondRestoreDelay time.Duration // spec §4.6.1
	PrefsAPIDeadline   time.Duration // spec §6.4
}

// Config holds all application configuration.
type Config struct {
	ListenAddr            string
	AdminKey              string
	BridgeAddr            string
	PrefsAPIURL           string
	PrefsAPIKey           string
	AllowedHosts          []domain.Server
	Timeout               TimeoutConfig
	DiscordWebhookDefault string
}

// Load reads configuration from environment variables, seeded
// optionally from a .env file the way the teacher's process bootstrap
// does, plus an allowlist YAML file when ALLOWLIST_PATH is set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	// PORT is the literal env var spec §6.5 names (default 3000);
	// LISTEN_ADDR is kept as an escape hatch for operators who want to
	// bind a specific host/interface instead of just a port.
	listenAddr := getEnv("LISTEN_ADDR", "")
	if listenAddr == "" {
		listenAddr = ":" + getEnv("PORT", "3000")
	}

	cfg := &Config{
		ListenAddr:            listenAddr,
		AdminKey:              getEnv("ADMIN_KEY", ""),
		BridgeAddr:            getEnv("BRIDGE_URL", ""),
		PrefsAPIURL:           getEnv("PREFS_API_URL", ""),
		PrefsAPIKey:           getEnv("PREFS_API_KEY", ""),
		DiscordWebhookDefault: getEnv("DISCORD_WEBHOOK_DEFAULT", ""),
		Timeout: TimeoutConfig{
			IdleSession:        getEnvDuration("IDLE_SESSION_TIMEOUT", 15*time.Minute),
			IdleSweepInterval:  getEnvDuration("IDLE_SWEEP_INTERVAL", 60*time.Second),
			PacketPatch:        getEnvDuration("PACKET_PATCH_DELAY", 500*time.Millisecond),
			QueueFlushSafety:   getEnvDuration("QUEUE_FLUSH_SAFETY", 3*time.Second),
			SecondRestoreDelay: getEnvDuration("SECOND_RESTORE_DELAY", 25*time.Second),
			PrefsAPIDeadline:   getEnvDuration("PREFS_API_DEADLINE", 5*time.Second),
		},
	}

	if path := getEnv("ALLOWLIST_PATH", ""); path != "" {
		servers, err := loadAllowlist(path)
		if err != nil {
			return nil, fmt.Errorf("loading allowlist: %w", err)
		}
		cfg.AllowedHosts = servers
	} else {
		cfg.AllowedHosts = []domain.Server{
			{Host: "3k.org", Port: 3000},
			{Host: "3scapes.org", Port: 3000},
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("PORT or LISTEN_ADDR cannot be empty")
	}
	if c.AdminKey == "" {
		return fmt.Errorf("ADMIN_KEY must be set")
	}
	if len(c.AllowedHosts) == 0 {
		return fmt.Errorf("at least one allowed upstream host is required")
	}
	return nil
}

// allowlistFile is the on-disk YAML shape for ALLOWLIST_PATH.
type allowlistFile struct {
	Servers []struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"servers"`
}

func loadAllowlist(path string) ([]domain.Server, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f allowlistFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	out := make([]domain.Server, 0, len(f.Servers))
	for _, s := range f.Servers {
		out = append(out, domain.Server{Host: s.Host, Port: s.Port})
	}
	return out, nil
}

// IsAllowed reports whether srv is present in the configured allowlist
// (spec §6.2).
func (c *Config) IsAllowed(srv domain.Server) bool {
	for _, s := range c.AllowedHosts {
		if s == srv {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

