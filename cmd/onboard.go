package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/voassist/vo/internal/config"
	"github.com/voassist/vo/internal/db"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfg := config.Default()

	provider := cfg.Agent.Provider
	model := cfg.Agent.Model
	apiKey := ""
	botName := cfg.Agent.BotName

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Model").
				Description("Model id, e.g. claude-sonnet-4-5-20250929 or gpt-4o").
				Value(&model),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("an API key is required")
					}
					return nil
				}).
				Value(&apiKey),
			huh.NewInput().
				Title("Bot name").
				Description("Name the assistant answers to in group chats").
				Value(&botName),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Agent.Provider = provider
	cfg.Agent.Model = model
	cfg.Agent.APIKey = apiKey
	cfg.Agent.BotName = botName

	path := resolveConfigPath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	// The config holds the API key; never leave a half-written file behind.
	if err := db.WriteFileAtomic(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	fmt.Printf("Wrote %s. Start the assistant with `vo run` or try `vo repl`.\n", path)
	return nil
}
