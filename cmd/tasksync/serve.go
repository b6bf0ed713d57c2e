package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tinytodo/tasksync/internal/config"
	"github.com/tinytodo/tasksync/internal/remote"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run a remote record service for other devices",
	Long: `Serve the record API that the http remote talks to. Records are kept in
memory, or in a folder with --dir so they survive restarts.

On each device:
  TASKSYNC_REMOTE_KIND=http TASKSYNC_REMOTE_URL=http://host:8787 tasksync sync`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}
		logs := cfg.LogWriter()
		defer logs.Close()
		logger := config.NewLogger(logs, "serve")

		var svc remote.Client = remote.NewMemory()
		desc := "memory"
		if dir != "" {
			d, err := remote.NewDir(dir, logger)
			if err != nil {
				fatal("%v", err)
			}
			svc, desc = d, d.Root()
		}

		gin.SetMode(gin.ReleaseMode)
		srv := &http.Server{
			Addr:              addr,
			Handler:           remote.NewHandler(svc, config.NewLogger(logs, "remote")),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Printf("Serving records from %s on %s", desc, addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				fatal("%v", err)
			}
		case <-ctx.Done():
			logger.Println("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8787", "address to listen on")
	serveCmd.Flags().String("dir", "", "keep records in this folder instead of memory")

	rootCmd.AddCommand(serveCmd)
}
