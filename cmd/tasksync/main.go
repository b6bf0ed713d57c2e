// Command tasksync is an offline-first task list. Every command writes the
// local database immediately; changes are synchronized with the configured
// remote in the background.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	dbPath     string
	noColor    bool
	jsonOutput bool
	noSync     bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Offline-first task list with background sync",
	Long: `tasksync keeps a task list in a local SQLite database and synchronizes it
with a remote record service whenever it can.

Local changes never wait for the network. After each change tasksync runs a
sync pass: it pulls remote changes, resolves conflicts (newer edit wins) and
pushes local edits. Run 'tasksync daemon' to keep syncing in the background.

Configuration is read from tasksync.toml (see 'tasksync config init') and
TASKSYNC_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: ./tasksync.toml or the user config dir)")
	flags.StringVar(&dbPath, "db", "", "database path, ':memory:' for a throwaway store (overrides db_path)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&jsonOutput, "json", false, "print JSON instead of text")
	flags.BoolVar(&noSync, "no-sync", false, "write locally without syncing")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log sync activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// outputJSON prints v as indented JSON on stdout.
func outputJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fatal("failed to encode JSON: %v", err)
	}
}
