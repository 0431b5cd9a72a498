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

	"github.com/MaheshSundaramurthy/botmetrics/internal/ingest"
	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
	"github.com/MaheshSundaramurthy/botmetrics/internal/metrics"
	"github.com/MaheshSundaramurthy/botmetrics/internal/relax"
	transport "github.com/MaheshSundaramurthy/botmetrics/internal/transport/http"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP intake server",
		Long: `Start the HTTP intake server.

Routed events are accepted on /relax/events and /webhooks/slack/{namespace},
queued and handled by a worker pool. Kik and Facebook webhooks on
/webhooks/{provider}/{namespace} are recorded synchronously.`,
		Example: `  botmetrics serve
  botmetrics serve --port 9090 --config botmetrics.yaml`,
		RunE: runServe,
	}
	cmd.Flags().StringP("port", "p", "", "port to listen on (overrides config)")
	cmd.Flags().Bool("skip-migrations", false, "do not apply migrations on startup")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.HTTP.Port = port
	}
	skipMigrations, _ := cmd.Flags().GetBool("skip-migrations")
	log := logger.Component("serve")

	policy, err := relax.ParseIdentityPolicy(cfg.Router.IdentityPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openBackend(ctx, cfg.Store, !skipMigrations)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("driver", cfg.Store.Driver).Msg("store connected")

	jobs, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	defer jobs.Close()
	log.Info().Str("driver", cfg.Queue.Driver).Str("exchange", cfg.Queue.Exchange).Msg("task queue ready")

	svc := relax.NewService(store, jobs, relax.WithIdentityPolicy(policy))

	// workers outlive the signal context so queued events drain after shutdown starts
	poolCtx, stopPool := context.WithCancel(context.Background())
	pool := ingest.NewPool(svc, cfg.Ingest.QueueMaxSize, cfg.Ingest.Workers)
	pool.Start(poolCtx)
	log.Info().Int("queue", cfg.Ingest.QueueMaxSize).Int("workers", cfg.Ingest.Workers).Msg("ingest started")

	deps := &transport.ServerDeps{
		Cfg:      *cfg,
		Ingest:   pool,
		Recorder: svc,
		Store:    store,
		Registry: metrics.Registry(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stopPool()
			pool.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	stopPool()
	pool.Wait()
	log.Info().Msg("ingest drained")
	return nil
}
