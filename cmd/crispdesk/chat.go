package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"crispdesk/internal/channel"
	"crispdesk/internal/config"
	"crispdesk/internal/crisp"
	"crispdesk/internal/directory"
	"crispdesk/internal/dispatch"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal",
		Long: `Runs the same dialogs as 'serve' against an in-memory conversation, so the
menu and flows can be tried without a Crisp website. The directory
database from the config is used for user lookups and bug reports.`,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	// Keep the console readable: only warnings and errors are logged.
	if cfg.General.LogLevel == "" || cfg.General.LogLevel == "info" || cfg.General.LogLevel == "debug" {
		cfg.General.LogLevel = "warn"
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := directory.NewSQLiteStore(cfg.Directory.DBPath, logger)
	if err != nil {
		return fmt.Errorf("directory store: %w", err)
	}
	defer store.Close()

	gateway := crisp.NewMemoryGateway()
	var dispatcher *dispatch.Dispatcher
	engine, err := buildEngine(cfg, gateway, store, func(conv, fp string) { dispatcher.MarkConsumed(conv, fp) })
	if err != nil {
		return err
	}
	dispatcher = dispatch.New(dispatch.Config{
		Handler:          engine,
		DedupeTTL:        cfg.Dialog.DedupeTTL(),
		DedupeMaxEntries: cfg.Dialog.DedupeMaxEntries,
		Logger:           logger,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dispatcher.Shutdown(shutdownCtx)
	}()

	console := channel.NewConsole(channel.ConsoleConfig{
		Dispatcher:  dispatcher,
		Gateway:     gateway,
		HistoryFile: filepath.Join(config.DefaultConfigDir(), "chat_history"),
		Logger:      logger,
	})
	return console.Run(ctx)
}
