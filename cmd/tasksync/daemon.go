package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinytodo/tasksync/internal/config"
	"github.com/tinytodo/tasksync/internal/daemon"
	"github.com/tinytodo/tasksync/internal/dashboard"
	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/store"
	"github.com/tinytodo/tasksync/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep syncing in the background",
	Long: `Run sync passes until interrupted: one at startup, one per schedule tick
(sync.schedule, default "@every 1m") and one after every local change.

With a folder remote (remote.kind = "dir") the daemon also watches the
folder and syncs shortly after other devices write to it.

Logs go to log_file when set, stderr otherwise.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		runDaemon(cmd, withDashboard)
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Run the daemon with a live web dashboard",
	Long: `Run the sync daemon and serve a dashboard showing passes and per-task sync
states as they happen.

Open http://127.0.0.1:8080 in your browser (see --host and --port).`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd, true)
	},
}

func runDaemon(cmd *cobra.Command, withDashboard bool) {
	if noSync {
		fatal("--no-sync cannot be used with the daemon")
	}
	verbose = true

	a := openApp(true)
	defer a.close()
	a.requireSync(cmd.Name())

	if cmd.Flags().Changed("schedule") {
		a.cfg.Sync.Schedule, _ = cmd.Flags().GetString("schedule")
	}
	loc, _ := a.cfg.Location()

	dcfg := &daemon.Config{
		Schedule:         a.cfg.Sync.Schedule,
		DebounceInterval: a.cfg.Sync.Debounce,
		Location:         loc,
		Logger:           config.NewLogger(a.logs, "daemon"),
	}
	if a.dir != nil {
		dcfg.WatchDir = a.dir.Root()
	}

	d, err := daemon.NewWithConfig(a.coord, dcfg)
	if err != nil {
		a.fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if withDashboard {
		host, port := a.cfg.Dashboard.Host, a.cfg.Dashboard.Port
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		server, err := startDashboard(a, host, port)
		if err != nil {
			a.fatal("%v", err)
		}
		defer server.Stop()
		fmt.Printf("Dashboard: http://%s\n", server.GetAddr())
	}

	fmt.Printf("Syncing with %s (Ctrl+C to stop)\n", a.remoteDesc)
	if next := d.NextRun(); !next.IsZero() {
		fmt.Printf("Next scheduled pass: %s\n", next.Format(time.TimeOnly))
	}
	if err := d.Start(ctx); err != nil {
		a.fatal("%v", err)
	}
}

// startDashboard serves the dashboard and feeds it coordinator events and
// local changes.
func startDashboard(a *app, host string, port int) (*dashboard.Server, error) {
	server := dashboard.NewServer(&dashboard.Config{
		Host:   host,
		Port:   port,
		Logger: config.NewLogger(a.logs, "dashboard"),
	})
	handler := dashboard.NewHandler(server, a.db, config.NewLogger(a.logs, "dashboard"))

	if err := server.Start(); err != nil {
		return nil, err
	}
	wireDashboard(handler, a.db, a.coord)
	return server, nil
}

func wireDashboard(h *dashboard.Handler, db *store.DB, coord *sync.Coordinator[*record.TaskRecord]) {
	h.Attach(coord)
	db.OnChange(h.OnLocalChange)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.UpdateStats(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load dashboard stats: %v\n", err)
	}
}

func init() {
	daemonCmd.Flags().String("schedule", "", "cron spec for periodic passes (overrides sync.schedule)")
	daemonCmd.Flags().Bool("dashboard", false, "also serve the web dashboard")
	daemonCmd.Flags().String("host", "", "dashboard host (overrides dashboard.host)")
	daemonCmd.Flags().Int("port", 0, "dashboard port (overrides dashboard.port)")

	dashboardCmd.Flags().String("schedule", "", "cron spec for periodic passes (overrides sync.schedule)")
	dashboardCmd.Flags().String("host", "", "host to bind (overrides dashboard.host)")
	dashboardCmd.Flags().Int("port", 0, "port to listen on (overrides dashboard.port)")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
