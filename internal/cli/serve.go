package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/csvbook/internal/config"
	"github.com/nao1215/csvbook/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the notebook JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ws, err := a.openWorkspace(ctx, true)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, ws.Close()) }()
			if ws.Standby() {
				a.logger.Warn("database is in use elsewhere, serving a read-only standby", "event", "standby")
			}

			srv := server.New(ws, server.Options{
				AllowedOrigins: a.cfg.CORSAllowedOrigins,
				Logger:         a.logger,
			})
			defer func() { err = errors.Join(err, srv.Close()) }()

			ln, err := net.Listen("tcp", a.cfg.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", a.cfg.ListenAddr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "csvbook API listening on %s\n", ln.Addr())
			return serve(ctx, ln, srv.Handler(), a.logger)
		},
	}
	cmd.Flags().StringVar(&a.flags.ListenAddr, "listen", config.DefaultListenAddr, "HTTP listen address")
	return cmd
}

// serve runs an HTTP server on ln until ctx is done, then shuts it down
// gracefully.
func serve(ctx context.Context, ln net.Listener, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "event", "shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
