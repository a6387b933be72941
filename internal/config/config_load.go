package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads the config file at path (JSON5), layers it over Default(),
// then applies VO_* environment overrides. A missing file is not an error:
// env-only configuration is the common REPL path.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides config fields from the VO_* environment variables.
// Environment always wins over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("VO_AGENT_PROVIDER"); v != "" {
		c.Agent.Provider = v
	}
	if v := os.Getenv("VO_AGENT_MODEL"); v != "" {
		c.Agent.Model = v
	}
	if v := os.Getenv("VO_AGENT_API_KEY"); v != "" {
		c.Agent.APIKey = v
	}
	if v := os.Getenv("VO_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VO_BOT_NAME"); v != "" {
		c.Agent.BotName = v
	}
}

// AutoRun reports whether VO_AUTO_RUN=1 requests automatic REPL bring-up.
func AutoRun() bool {
	v, err := strconv.ParseBool(os.Getenv("VO_AUTO_RUN"))
	return err == nil && v
}
