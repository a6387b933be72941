// Package config holds the Vo runtime configuration: defaults, JSON5 file
// loading, and VO_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the root configuration for a Vo assistant process.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Sessions  SessionsConfig  `json:"sessions"`
	Memory    MemoryConfig    `json:"memory"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Skills    SkillsConfig    `json:"skills"`
	MCP       []MCPServer     `json:"mcp,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry"`

	// DataDir is where the SQLite database and ancillary files live.
	// Overridden by VO_DATA_DIR.
	DataDir string `json:"data_dir"`
}

// AgentConfig selects the LLM provider and model for the turn loop.
type AgentConfig struct {
	Provider    string  `json:"provider"` // "anthropic" or "openai"
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Prompt      string  `json:"prompt,omitempty"` // base system prompt
	BotName     string  `json:"bot_name"`         // group-chat ping detection
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	MaxTurns    int     `json:"max_turns"` // cap on loop iterations per event
}

// SessionsConfig tunes session rotation and bridge context.
type SessionsConfig struct {
	StaleAfterSecs int `json:"stale_after_secs"` // rotate after this much inactivity
	BridgeEntries  int `json:"bridge_entries"`   // tail entries carried into the new session
}

// MemoryConfig tunes the relevance-retrieval middleware.
type MemoryConfig struct {
	ContextLimit int `json:"context_limit"` // max memories injected per turn
	QueryChars   int `json:"query_chars"`   // cap on the retrieval query built from recent input
}

// ChannelsConfig configures the optional reference channel adapters.
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

// DiscordConfig enables the Discord event source.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// TelegramConfig enables the Telegram event source.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// GatewayConfig configures the WebSocket gateway event source.
type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	// SendRatePerMin throttles outbound channel sends. 0 disables the limiter.
	SendRatePerMin int `json:"send_rate_per_min"`
}

// SkillsConfig points at the skills directory watched for hot reload.
type SkillsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// MCPServer describes one stdio MCP server whose tools join the registry.
type MCPServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Protocol string `json:"protocol,omitempty"` // "http" (default) or "grpc"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5-20250929",
			BotName:     "vo",
			MaxTokens:   8192,
			Temperature: 0.7,
			MaxTurns:    20,
		},
		Sessions: SessionsConfig{
			StaleAfterSecs: 3600,
			BridgeEntries:  3,
		},
		Memory: MemoryConfig{
			ContextLimit: 6,
			QueryChars:   500,
		},
		Gateway: GatewayConfig{
			Host:           "127.0.0.1",
			Port:           18590,
			SendRatePerMin: 60,
		},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
		DataDir: filepath.Join(home, ".vo"),
	}
}

// Validate checks the fields that are fatal at startup. Messages name the
// environment variable that fixes the problem.
func (c *Config) Validate() error {
	switch c.Agent.Provider {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("no LLM provider configured: set VO_AGENT_PROVIDER or agent.provider")
	default:
		return fmt.Errorf("unknown provider %q: set VO_AGENT_PROVIDER to \"anthropic\" or \"openai\"", c.Agent.Provider)
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("no model configured: set VO_AGENT_MODEL or agent.model")
	}
	if c.Agent.APIKey == "" {
		return fmt.Errorf("no API key configured: set VO_AGENT_API_KEY or agent.api_key")
	}
	if c.DataDir == "" {
		return fmt.Errorf("no data directory configured: set VO_DATA_DIR or data_dir")
	}
	return nil
}

// DatabasePath returns the SQLite file location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "vo.db")
}
