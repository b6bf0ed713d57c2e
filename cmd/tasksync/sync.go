package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/store"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync pass now",
	Long: `Pull remote changes, reconcile them with the local store and push local
changes. Use --full to pull everything again instead of only what changed
since the last pass.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if noSync {
			fatal("--no-sync cannot be used with sync")
		}
		full, _ := cmd.Flags().GetBool("full")

		a := openApp(true)
		defer a.close()
		a.requireSync("sync")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if full {
			if err := a.db.ResetCursor(ctx, record.Kind); err != nil {
				a.fatal("%v", err)
			}
		}

		rep, err := a.coord.Sync(ctx)
		if rep == nil {
			a.fatal("%v", err)
		}
		if jsonOutput {
			outputJSON(rep)
		} else {
			a.out.Report(rep)
		}
		if err != nil {
			a.close()
			os.Exit(1)
		}
	},
}

type statusOutput struct {
	store.Counts
	Remote   string               `json:"remote"`
	Cursor   *time.Time           `json:"pulled_up_to,omitempty"`
	Database string               `json:"database"`
	Rejected []*record.TaskRecord `json:"rejected_tasks,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local totals and sync state",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(false)
		defer a.close()
		ctx := context.Background()

		if err := a.openRemote(); err != nil {
			a.fatal("%v", err)
		}

		counts, err := a.db.Counts(ctx)
		if err != nil {
			a.fatal("%v", err)
		}
		cursor, err := a.db.Cursor(ctx, record.Kind)
		if err != nil {
			a.fatal("%v", err)
		}
		rejected, err := a.db.Rejected(ctx)
		if err != nil {
			a.fatal("%v", err)
		}

		if jsonOutput {
			out := statusOutput{Counts: counts, Remote: a.remoteDesc, Database: a.db.Path(), Rejected: rejected}
			if !cursor.IsZero() {
				out.Cursor = &cursor
			}
			outputJSON(out)
			return
		}

		a.out.Status(counts, cursor, a.remoteDesc)
		for _, task := range rejected {
			a.out.Warn("%s %q rejected: %s (edit it to retry)", shortID(task.ID), task.Title, task.RejectReason)
		}
	},
}

var purgeCmd = &cobra.Command{
	Use:     "purge [id...]",
	GroupID: "advanced",
	Short:   "Remove tombstones of deleted tasks",
	Long: `Deleted tasks are kept as tombstones until the deletion reaches the remote.
Without arguments, purge removes every tombstone that is already synced.
With IDs, it removes those records outright, synced or not.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(false)
		defer a.close()
		ctx := context.Background()

		if len(args) == 0 {
			n, err := a.db.PurgeSynced(ctx)
			if err != nil {
				a.fatal("%v", err)
			}
			a.out.Success("Purged %d synced tombstone(s)", n)
			return
		}

		for _, id := range args {
			if err := a.db.Purge(ctx, id); err != nil {
				if store.IsNotFound(err) {
					a.fatal("task %s not found", id)
				}
				a.fatal("%v", err)
			}
			a.out.Success("Purged %s", id)
		}
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	syncCmd.Flags().Bool("full", false, "pull every remote record again")

	rootCmd.AddCommand(syncCmd, statusCmd, purgeCmd)
}
