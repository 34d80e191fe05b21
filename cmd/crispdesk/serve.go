package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"crispdesk/internal/channel"
	"crispdesk/internal/collector"
	"crispdesk/internal/config"
	"crispdesk/internal/crisp"
	"crispdesk/internal/directory"
	"crispdesk/internal/dispatch"
	"crispdesk/internal/domain"
	"crispdesk/internal/extract"
	"crispdesk/internal/flow"
	"crispdesk/internal/intent"
	"crispdesk/internal/metrics"
	"crispdesk/internal/nlu"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Crisp web hook endpoint",
		Long: `Starts the web hook HTTP server, the dispatcher and, when a dialog catalog
file is configured, the catalog watcher. Press Ctrl+C to stop; running
dialogs are cancelled and given a few seconds to finish.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Crisp.Identifier == "" || cfg.Crisp.Key == "" {
		logger.Warn("crisp credentials not configured, replies will be rejected by the API")
	}
	if cfg.Server.Secret == "" {
		logger.Warn("web hook secret not configured, signatures are not verified")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := directory.NewSQLiteStore(cfg.Directory.DBPath, logger)
	if err != nil {
		return fmt.Errorf("directory store: %w", err)
	}
	defer store.Close()

	gateway := crisp.NewClient(crisp.ClientConfig{
		APIBase:           cfg.Crisp.APIBase,
		Identifier:        cfg.Crisp.Identifier,
		Key:               cfg.Crisp.Key,
		Tier:              cfg.Crisp.Tier,
		WebsiteID:         cfg.Crisp.WebsiteID,
		RequestsPerSecond: cfg.Crisp.RequestsPerSecond,
		MaxRetries:        cfg.Crisp.MaxRetries,
		Timeout:           cfg.Crisp.Timeout(),
		Logger:            logger,
	})

	// The collector reports every reply it reads so that the late web hook
	// for the same message is not taken for a new conversation turn.
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

	var metricsHandler http.Handler
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Collector.Handler()
		metricsPath = cfg.Metrics.Path
	}
	webhook := channel.NewWebhook(channel.WebhookConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Path:            cfg.Server.Path,
		Secret:          cfg.Server.Secret,
		SignatureHeader: cfg.Server.SignatureHeader,
		MetricsPath:     metricsPath,
		Metrics:         metricsHandler,
		Dispatcher:      dispatcher,
		Logger:          logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return webhook.Start(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	if cfg.Dialog.CatalogPath != "" {
		g.Go(func() error {
			if err := intent.WatchCatalog(gctx, cfg.Dialog.CatalogPath, logger, engine.Reload); err != nil {
				logger.Warn("dialog catalog will not be reloaded", "err", err)
			}
			return nil
		})
	}

	logger.Info("crispdesk started. Press Ctrl+C to stop.", "version", version, "menu_options", len(engine.Menu().Options()))
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// buildEngine wires the classifier, collector and built-in flows around a
// gateway. serve and chat share it so both run identical dialogs.
func buildEngine(cfg *config.Config, gateway domain.Gateway, store *directory.SQLiteStore, onConsume func(conversationID, fingerprint string)) (*flow.Engine, error) {
	catalog, err := intent.LoadCatalog(cfg.Dialog.CatalogPath, logger)
	if err != nil {
		return nil, err
	}

	extractor, err := extract.NewExtractor(cfg.Transactions.Patterns)
	if err != nil {
		return nil, fmt.Errorf("transaction patterns: %w", err)
	}

	var classifierNLU domain.NLU
	if cfg.NLU.Enabled {
		classifierNLU = nlu.NewWit(nlu.WitConfig{
			APIBase: cfg.NLU.APIBase,
			Token:   cfg.NLU.Token,
			Logger:  logger,
		})
		logger.Info("nlu enabled", "provider", cfg.NLU.Provider)
	}

	engine, err := flow.NewEngine(flow.EngineConfig{
		Gateway: gateway,
		Collector: collector.New(collector.Config{
			Gateway:      gateway,
			PollInterval: cfg.Dialog.PollInterval(),
			OnConsume:    onConsume,
			Logger:       logger,
		}),
		Classifier: intent.NewClassifier(intent.ClassifierConfig{
			Catalog:        catalog,
			FuzzyThreshold: cfg.Dialog.FuzzyThreshold,
			NLULabels:      cfg.NLU.Labels,
			MinConfidence:  cfg.NLU.MinConfidence,
		}),
		Catalog: catalog,
		NLU:     classifierNLU,
		Flows: flow.Builtin(flow.BuiltinConfig{
			Directory:   store,
			BugReports:  store,
			Extractor:   extractor,
			OperatorID:  cfg.Dialog.OperatorID,
			ExitKeyword: cfg.Dialog.ExitKeyword,
			Timeout:     cfg.Dialog.AwaitTimeout(),
			LongTimeout: cfg.Dialog.LongAwaitTimeout(),
		}),
		ExitKeyword: cfg.Dialog.ExitKeyword,
		Timeout:     cfg.Dialog.AwaitTimeout(),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("flow engine: %w", err)
	}
	return engine, nil
}
