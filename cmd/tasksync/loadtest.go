package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinytodo/tasksync/internal/config"
	"github.com/tinytodo/tasksync/internal/loadtest"
	"github.com/tinytodo/tasksync/internal/remote"
	"github.com/tinytodo/tasksync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Simulate several devices editing and syncing at once",
	Long: `Simulate a fleet of devices, each with its own in-memory store, editing one
task list concurrently and syncing after every edit. Reports sync pass
latency, then syncs until all devices agree and fails if they do not.

The devices share an in-memory remote unless --remote is given, in which
case the configured remote is used. Never point this at a remote holding
real tasks.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		devices, _ := cmd.Flags().GetInt("devices")
		ops, _ := cmd.Flags().GetInt("ops")
		seed, _ := cmd.Flags().GetInt64("seed")
		useRemote, _ := cmd.Flags().GetBool("remote")

		var client remote.Client = remote.NewMemory()
		if useRemote {
			cfg, err := loadConfig()
			if err != nil {
				fatal("%v", err)
			}
			client, _, _, err = newRemote(cfg, config.NewLogger(os.Stderr, "remote"))
			if err != nil {
				fatal("%v", err)
			}
			if client == nil {
				fatal("--remote needs remote.kind set to http or dir")
			}
		}

		var logger *log.Logger
		if verbose {
			logger = config.NewLogger(os.Stderr, "loadtest")
		}
		fleet, err := loadtest.NewFleet(devices, client, logger)
		if err != nil {
			fatal("%v", err)
		}
		defer fleet.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := ui.NewPrinter(os.Stdout, noColor)
		start := time.Now()
		result, err := fleet.Run(ctx, ops, seed)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%d devices, %d edits (%d failed) in %v\n",
			devices, result.Ops, result.OpErrors, time.Since(start).Round(time.Millisecond))
		result.Passes.PrintStats(os.Stdout)

		rounds, err := fleet.Converge(ctx, 10)
		if err != nil {
			out.Error("%v", err)
			fleet.Close()
			os.Exit(1)
		}
		live, _ := fleet.LiveTasks(ctx)
		out.Success("Converged in %d round(s): %d live tasks on every device", rounds, live)
	},
}

func init() {
	loadtestCmd.Flags().Int("devices", 5, "number of simulated devices")
	loadtestCmd.Flags().Int("ops", 50, "edits per device")
	loadtestCmd.Flags().Int64("seed", 42, "random seed")
	loadtestCmd.Flags().Bool("remote", false, "use the configured remote instead of an in-memory one")

	rootCmd.AddCommand(loadtestCmd)
}
