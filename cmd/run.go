package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voassist/vo/internal/assistant"
	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/channels/discord"
	"github.com/voassist/vo/internal/channels/repl"
	"github.com/voassist/vo/internal/channels/telegram"
	"github.com/voassist/vo/internal/channels/ws"
	"github.com/voassist/vo/internal/config"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the assistant with all configured event sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistant(cmd.Context())
		},
	}
}

func runAssistant(ctx context.Context) error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	rt, err := assistant.Init(ctx, cfg, Version)
	if err != nil {
		return fmt.Errorf("init assistant: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sources []bus.EventSource
	if cfg.Gateway.Enabled {
		sources = append(sources, ws.NewSource(ws.Config{
			Host:           cfg.Gateway.Host,
			Port:           cfg.Gateway.Port,
			SendRatePerMin: cfg.Gateway.SendRatePerMin,
		}))
	}
	if cfg.Channels.Discord.Enabled {
		sources = append(sources, discord.NewSource(cfg.Channels.Discord))
	}
	if cfg.Channels.Telegram.Enabled {
		sources = append(sources, telegram.NewSource(cfg.Channels.Telegram))
	}
	if config.AutoRun() {
		src := repl.NewSource()
		sources = append(sources, src)
		go func() {
			<-src.Done()
			stop()
		}()
	}

	runErr := rt.Run(ctx, sources...)

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(cctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
