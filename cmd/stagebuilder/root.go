package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/codymaki/Bokudos-stagebuilder/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stagebuilder",
		Short: "Persist and query game stages and their regions",
		Long: `stagebuilder stores stages (grids of regions) for a level editor.
Configuration is read from STAGEBUILDER_* environment variables.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newExportCmd())
	return root
}

// loadApp reads the environment and wires the process. Logs go to stderr.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return buildApp(cmd.Context(), cfg, cmd.ErrOrStderr())
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()
			if addr != "" {
				a.cfg.HTTPAddr = addr
			}
			ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
			}
			return serve(cmd.Context(), a, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides STAGEBUILDER_HTTP_ADDR)")
	return cmd
}

// serve runs the HTTP server on ln until ctx is cancelled, then drains
// in-flight requests.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			if err := a.Close(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("storage %s is up to date\n", a.cfg.Storage.Driver)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "export <stage-id>",
		Short: "Write a stage snapshot to the blob store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || stageID <= 0 {
				return fmt.Errorf("invalid stage id %q", args[0])
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			var out any
			if list {
				out, err = a.exporter.ListExports(cmd.Context(), stageID)
			} else {
				out, err = a.exporter.Export(cmd.Context(), stageID)
			}
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("encode output: %w", err)
			}
			cmd.Println(string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list existing exports instead of writing one")
	return cmd
}
