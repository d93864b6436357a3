package main

import (
	"encoding/json"
	"fmt"

	"github.com/metalagman/phasekit/internal/db"
	"github.com/metalagman/phasekit/internal/memory"
	"github.com/metalagman/phasekit/internal/report"
	"github.com/metalagman/phasekit/internal/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage recorded runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	cmd.AddCommand(runsPruneCmd())
	cmd.AddCommand(runsClearMemoryCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workingDir()
			if err != nil {
				return err
			}
			storeDB, closeFn, err := openDB(root)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := db.NewStore(storeDB).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), report.RunsTable(runs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var asJSON bool
	var withEvents bool
	cmd := &cobra.Command{
		Use:          "show <run-id>",
		Short:        "Show the report of a recorded run",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workingDir()
			if err != nil {
				return err
			}
			storeDB, closeFn, err := openDB(root)
			if err != nil {
				return err
			}
			defer closeFn()

			store := db.NewStore(storeDB)
			rec, phases, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res := report.FromRecord(rec, phases)
			var events []db.EventRecord
			if withEvents {
				if events, err = store.Events(cmd.Context(), rec.RunID); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Run    any              `json:"run"`
					Events []db.EventRecord `json:"events,omitempty"`
				}{Run: res, Events: events})
			}
			rendered, err := report.Render(report.Markdown(res), 0)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(out, rendered)
			for _, ev := range events {
				_, _ = fmt.Fprintf(out, "%4d %s %-20s %-16s %-20s %s\n",
					ev.Seq, ev.Time.Local().Format("15:04:05"), ev.Type, ev.Phase, ev.AgentKey, ev.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	cmd.Flags().BoolVar(&withEvents, "events", false, "include the event timeline")
	return cmd
}

func runsPruneCmd() *cobra.Command {
	var keepLast int
	var keepDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old runs from disk and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workingDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			storeDB, closeFn, err := openDB(root)
			if err != nil {
				return err
			}
			defer closeFn()

			policy := cfg.Retention
			if keepLast > 0 || keepDays > 0 {
				policy.KeepLast = keepLast
				policy.KeepDays = keepDays
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days (or configure retention in the config file)")
			}

			dir := stateDir(root)
			lock, err := run.AcquireLock(dir, "prune")
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			pruner := run.Pruner{
				Runs:      db.NewStore(storeDB),
				StateDir:  dir,
				Memory:    db.NewKVStore(storeDB),
				Namespace: cfg.MemoryNamespace,
			}
			res, err := pruner.Prune(cmd.Context(), policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			log.Info().Msgf("%s %d runs (kept %d, skipped %d)", mode, res.Deleted, res.Kept, res.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep runs newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}

func runsClearMemoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-memory [run-id]",
		Short: "Delete shared memory entries of one run, or of all runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workingDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			storeDB, closeFn, err := openDB(root)
			if err != nil {
				return err
			}
			defer closeFn()

			ns := cfg.MemoryNamespace
			if len(args) == 1 {
				ns = memory.Key(ns, args[0])
			}
			n, err := db.NewKVStore(storeDB).Clear(cmd.Context(), ns)
			if err != nil {
				return err
			}
			log.Info().Str("namespace", ns).Int64("entries", n).Msg("cleared memory")
			return nil
		},
	}
}
