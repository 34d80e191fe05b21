package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"crispdesk/internal/config"
	"crispdesk/internal/directory"
	"crispdesk/internal/extract"
	"crispdesk/internal/intent"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your crispdesk installation",
		Long: `Verifies that the configuration, Crisp credentials, directory database,
dialog catalog and listen port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("crispdesk doctor v%s\n\n", version)

			passed, warned, failed := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'crispdesk init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			if cfg.Crisp.Identifier == "" || cfg.Crisp.Key == "" {
				printFail("Crisp credentials", "crisp.identifier and crisp.key are required")
				failed++
			} else {
				printPass("Crisp credentials", "configured (tier "+cfg.Crisp.Tier+")")
				passed++
			}
			if cfg.Crisp.WebsiteID == "" {
				printWarn("Crisp website", "no default website id; events must carry one")
				warned++
			}

			if cfg.Server.Secret == "" {
				printWarn("Web hook secret", "not set, signatures are not verified")
				warned++
			} else {
				printPass("Web hook secret", "set")
				passed++
			}

			if n, err := checkDirectory(cfg.Directory.DBPath); err != nil {
				printFail("Directory", err.Error())
				failed++
			} else {
				printPass("Directory", fmt.Sprintf("%s (%d users)", cfg.Directory.DBPath, n))
				passed++
			}

			if cat, err := intent.LoadCatalog(cfg.Dialog.CatalogPath, logger); err != nil {
				printFail("Dialog catalog", err.Error())
				failed++
			} else if _, err := cat.Menu(); err != nil {
				printFail("Dialog catalog", err.Error())
				failed++
			} else {
				printPass("Dialog catalog", fmt.Sprintf("%d menu options", len(cat.Options)))
				passed++
			}

			if _, err := extract.NewExtractor(cfg.Transactions.Patterns); err != nil {
				printFail("Transactions", err.Error())
				failed++
			} else {
				printPass("Transactions", fmt.Sprintf("%d custom patterns", len(cfg.Transactions.Patterns)))
				passed++
			}

			if cfg.NLU.Enabled {
				printPass("NLU", cfg.NLU.Provider+" enabled")
				passed++
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Listen port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Listen port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// checkDirectory opens (and migrates) the directory database.
func checkDirectory(dbPath string) (int, error) {
	store, err := directory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.CountUsers(ctx)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
