package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/factotum-dev/factotum/internal/ai"
	"github.com/factotum-dev/factotum/internal/config"
	"github.com/factotum-dev/factotum/internal/history"
	"github.com/factotum-dev/factotum/internal/refine"
	"github.com/factotum-dev/factotum/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the refinement loop over HTTP",
	Long: `Start the HTTP boundary. POST /api/runs accepts a JSON body with a
topic and optional per-run overrides, runs the refinement loop, and returns
the final research. When a history path is configured, completed runs are
recorded and served from /api/runs.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.ListenAddr = addr
		}

		client, err := ai.NewClient(cfg.Client())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var store *history.Store
		if cfg.HistoryPath != "" {
			store, err = history.Open(cfg.HistoryPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()
		}

		logger := slog.Default()
		orch := refine.New(client, logger)
		srv := server.New(orch, cfg.Refinement(), store, client.Model(), cfg.ListenAddr, logger)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		case <-sigCh:
			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: shutdown failed: %v\n", err)
				os.Exit(1)
			}
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
