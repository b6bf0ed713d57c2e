package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinytodo/tasksync/internal/migrate"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "advanced",
	Short:   "Export tasks to JSONL or YAML",
	Long: `Export tasks to a file, or stdout when no file is given. The format follows
the file extension (.yaml/.yml, otherwise JSONL) unless --format is set.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		formatName, _ := cmd.Flags().GetString("format")
		includeDeleted, _ := cmd.Flags().GetBool("include-deleted")

		opts := migrate.ExportOptions{Format: migrate.FormatJSONL, IncludeDeleted: includeDeleted}
		if len(args) == 1 {
			opts.Format = migrate.FormatFromPath(args[0])
		}
		if formatName != "" {
			format, err := migrate.ParseFormat(formatName)
			if err != nil {
				fatal("%v", err)
			}
			opts.Format = format
		}

		a := openApp(false)
		defer a.close()
		ctx := context.Background()

		if len(args) == 0 {
			if _, err := migrate.Export(ctx, a.db, os.Stdout, opts); err != nil {
				a.fatal("%v", err)
			}
			return
		}

		n, err := migrate.ExportFile(ctx, a.db, args[0], opts)
		if err != nil {
			a.fatal("%v", err)
		}
		a.out.Success("Exported %d task(s) to %s", n, args[0])
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Import tasks from JSONL or YAML",
	Long: `Import tasks from an export file. Unknown tasks are added; a known task is
replaced only when the file's copy was modified later. Deleted tasks are
never revived.

Imported tasks are pushed like local edits unless --keep-sync-state is set.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		keep, _ := cmd.Flags().GetBool("keep-sync-state")
		backup, _ := cmd.Flags().GetString("backup")

		tasks, err := migrate.ReadFile(args[0])
		if err != nil {
			fatal("%v", err)
		}

		a := openApp(!dryRun)
		defer a.close()

		result, err := migrate.Import(context.Background(), a.db, tasks, migrate.ImportOptions{
			DryRun:        dryRun,
			KeepSyncState: keep,
			BackupPath:    backup,
		})
		if err != nil {
			a.fatal("%v", err)
		}
		a.settle()

		if jsonOutput {
			outputJSON(result)
			return
		}
		if result.BackupCreated != "" {
			a.out.Success("Backup written to %s", result.BackupCreated)
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		a.out.Success("%s: %d inserted, %d updated, %d skipped", verb, result.Inserted, result.Updated, result.Skipped)
		for _, msg := range result.Errors {
			a.out.Warn("%s", msg)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "", "jsonl or yaml")
	exportCmd.Flags().Bool("include-deleted", false, "include tombstones of deleted tasks")

	importCmd.Flags().Bool("dry-run", false, "report changes without writing")
	importCmd.Flags().Bool("keep-sync-state", false, "keep remote IDs and sync stamps from the file")
	importCmd.Flags().String("backup", "", "export the store to this file before importing")

	rootCmd.AddCommand(exportCmd, importCmd)
}
