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
	"github.com/voassist/vo/internal/channels/repl"
	"github.com/voassist/vo/internal/config"
)

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Talk to the assistant from an interactive terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd.Context())
		},
	}
}

func runRepl(ctx context.Context) error {
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

	src := repl.NewSource()
	go func() {
		<-src.Done()
		stop()
	}()

	runErr := rt.Run(ctx, src)

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(cctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
