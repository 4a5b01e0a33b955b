package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/config"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/lookup"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve percentile lookups, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("addr") {
				addr = root.cfg.HTTPAddr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           newServeMux(a),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", addr).Str("backend", root.cfg.Store.Backend).Msg("Starting server")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			a.logger.Info().Msg("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.Default().HTTPAddr, "listen address")
	return cmd
}

func newServeMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(a))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/percentiles/", lookup.NewService(a.percentiles()).Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := a.ready(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}
