package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/logging"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/orchestrator"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

var log = logging.For("cli")

func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.Store.DBPath, err)
	}
	return db, nil
}

// runCmd starts the background supervisor loop and blocks until
// SIGINT/SIGTERM via signal.NotifyContext.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scrape-intake/enrich/group/merge/trend pipeline on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg := config.Get()
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		sup, err := orchestrator.New(ctx, cfg, db)
		if err != nil {
			return fmt.Errorf("building supervisor: %w", err)
		}
		return sup.Run(ctx)
	},
}

// ingestCmd enqueues each URL argument for scrape intake and runs one
// full pipeline pass (intake, then every later phase) instead of
// waiting for the ticker.
var ingestCmd = &cobra.Command{
	Use:   "ingest [url...]",
	Short: "Fetch and store one or more article URLs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		sup, err := orchestrator.New(cmd.Context(), cfg, db)
		if err != nil {
			return fmt.Errorf("building supervisor: %w", err)
		}
		for _, u := range args {
			sup.EnqueueURL(u)
		}
		stats, err := sup.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		log.Info().Int("attempted", stats.IntakeAttempted).Int("failed", stats.IntakeFailed).Msg("ingest: done")
		return nil
	},
}

// enrichCmd runs one full pipeline pass (RunOnce runs every phase) and
// reports the Enricher's numbers.
var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Extract entities, companies, CVEs, and references from unenriched articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), func(ctx context.Context, sup *orchestrator.Supervisor) error {
			stats, err := sup.RunOnce(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("extracted", stats.Enrich.ArticlesExtracted).Int("errors", stats.Enrich.ExtractionErrors).Msg("enrich: done")
			return nil
		})
	},
}

// groupCmd, mergeCmd, trendCmd each run a full pipeline pass and
// report the phase they name; since RunOnce always runs every phase in
// sequence, these are convenience entrypoints for operators who want
// one phase's numbers surfaced, not isolated single-phase runs.
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Run a grouping pass over currently ungrouped articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), func(ctx context.Context, sup *orchestrator.Supervisor) error {
			stats, err := sup.RunOnce(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("processed", len(stats.GroupingResults)).Msg("group: done")
			return nil
		})
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Run a merge pass over near-duplicate groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), func(ctx context.Context, sup *orchestrator.Supervisor) error {
			stats, err := sup.RunOnce(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("merged", stats.Merge.MergedPairs).Msg("merge: done")
			return nil
		})
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Run a trend synthesis pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), func(ctx context.Context, sup *orchestrator.Supervisor) error {
			stats, err := sup.RunOnce(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("identified", stats.Trend.Identified).Int("floor_promoted", stats.Trend.FloorPromoted).Msg("trend: done")
			return nil
		})
	},
}

func runOnce(ctx context.Context, fn func(context.Context, *orchestrator.Supervisor) error) error {
	cfg := config.Get()
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sup, err := orchestrator.New(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("building supervisor: %w", err)
	}
	return fn(ctx, sup)
}
