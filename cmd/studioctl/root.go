package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/makeasinger/studio/internal/billing"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/logger"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/internal/store"
)

var (
	dbPath    string
	sessionID string
	verbose   bool

	cfg       *config.Config
	log       zerolog.Logger
	kv        *store.SQLiteKV
	snapshots *store.SnapshotStore
	gate      *billing.Gate
	credits   service.CreditsSource
	printer   *eventPrinter
	generator *service.GenerationService
)

var rootCmd = &cobra.Command{
	Use:           "studioctl",
	Short:         "Run generation queues from the terminal.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if generator != nil {
			return nil
		}

		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c

		level := "warn"
		if verbose {
			level = "debug"
		}
		log = logger.NewWithWriter(os.Stderr, "development", level)

		if dbPath == "" {
			dbPath = cfg.CLI.DBPath
		}
		if dbPath == "" {
			home, _ := os.UserHomeDir()
			dbPath = filepath.Join(home, ".studioctl", "studio.db")
		}
		if sessionID == "" {
			sessionID = cfg.CLI.SessionID
		}

		s, err := store.NewSQLiteKV(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", dbPath, err)
		}
		kv = s

		registry := client.NewRegistry(
			client.NewSunoClient(&cfg.Suno, logger.Component(log, "suno")),
			client.NewMediaClient(model.ProviderImage, &cfg.Image, logger.Component(log, "image")),
			client.NewMediaClient(model.ProviderVideo, &cfg.Video, logger.Component(log, "video")),
		)

		credits = service.StaticCreditsSource(cfg.Credits.DevBalance)
		if cc := client.NewCreditsClient(&cfg.Credits, logger.Component(log, "credits")); cc.IsConfigured() {
			credits = cc.ForUser
		}

		gate = billing.NewGate(billing.NewEstimatorFromConfig(&cfg.Pricing), cfg.Credits.PurchaseURL, logger.Component(log, "admission"))
		snapshots = store.NewSnapshotStore(kv, cfg.Orchestrator.Namespace, cfg.Orchestrator.SnapshotTTL, cfg.Orchestrator.LeaseTTL, logger.Component(log, "snapshots"))
		printer = newEventPrinter(cmd.OutOrStdout())

		generator = service.NewGenerationService(service.GenerationDeps{
			Snapshots: snapshots,
			Providers: registry,
			Gate:      gate,
			Credits:   credits,
			Prober:    client.NewHTTPProber(10*time.Second, logger.Component(log, "readiness")),
			Config:    orchestrator.ConfigFrom(&cfg.Orchestrator),
			Publisher: printer,
			Log:       log,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if generator != nil {
			generator.Close()
		}
		if kv != nil {
			return kv.Close()
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite DB (default $HOME/.studioctl/studio.db)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "Session to operate on (default \"local\")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log orchestrator activity to stderr")
}
