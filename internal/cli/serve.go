package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/api"
	"github.com/qninhdt/storycards/internal/seed"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

func newServeCmd(opts *options) *cobra.Command {
	var port string
	var skipSeed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				opts.cfg.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, !skipSeed)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default: $PORT)")
	cmd.Flags().BoolVar(&skipSeed, "no-seed", false, "Do not install the built-in cards on startup")
	return cmd
}

func runServe(ctx context.Context, opts *options, seedCards bool) error {
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
	}()

	if seedCards {
		if _, err := seed.Seed(ctx, a.cards, a.logger.Named("seed")); err != nil {
			return fmt.Errorf("seed cards: %w", err)
		}
	}

	handler := api.NewServer(api.Deps{
		Cards:        a.cards,
		Sessions:     a.sessions,
		Orchestrator: a.orchestrator,
		Pipeline:     a.pipeline,
		LLM:          a.llm,
		Storage:      a.db,
		Logger:       a.logger.Named("http"),
		RateLimitRPS: a.cfg.RateLimitRPS,
	})

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Generation calls can take a while.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	go sweepVisitors(ctx, handler, a.logger)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", a.llm.ActiveName()),
			zap.String("db", a.cfg.DBPath),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweepVisitors periodically drops idle rate limiter entries until ctx ends
func sweepVisitors(ctx context.Context, srv *api.Server, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := srv.SweepVisitors(); n > 0 {
				logger.Debug("rate limiter swept", zap.Int("evicted", n))
			}
		}
	}
}
