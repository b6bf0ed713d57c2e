package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tinytodo/tasksync/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path, force); err != nil {
			fatal("%v", err)
		}
		abs, _ := filepath.Abs(path)
		fmt.Printf("Wrote %s\n", abs)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}
		if jsonOutput {
			outputJSON(cfg)
			return
		}

		file := cfg.File
		if file == "" {
			file = "(none, using defaults)"
		}
		fmt.Printf("config file:     %s\n", file)
		fmt.Printf("db_path:         %s\n", cfg.DBPath)
		fmt.Printf("timezone:        %s\n", cfg.Timezone)
		fmt.Printf("log_file:        %s\n", cfg.LogFile)
		fmt.Printf("remote.kind:     %s\n", cfg.Remote.Kind)
		switch cfg.Remote.Kind {
		case config.RemoteHTTP:
			fmt.Printf("remote.url:      %s\n", cfg.Remote.URL)
		case config.RemoteDir:
			fmt.Printf("remote.dir:      %s\n", cfg.Remote.Dir)
		}
		fmt.Printf("remote.timeout:  %v\n", cfg.Remote.Timeout)
		fmt.Printf("sync.schedule:   %s\n", cfg.Sync.Schedule)
		fmt.Printf("sync.debounce:   %v\n", cfg.Sync.Debounce)
		fmt.Printf("dashboard:       %s:%d\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
