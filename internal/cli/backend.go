package cli

import (
	"context"
	"fmt"

	"github.com/MaheshSundaramurthy/botmetrics/internal/config"
	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
	"github.com/MaheshSundaramurthy/botmetrics/internal/queue"
	"github.com/MaheshSundaramurthy/botmetrics/internal/relax"
	"github.com/MaheshSundaramurthy/botmetrics/internal/storage/postgres"
	"github.com/MaheshSundaramurthy/botmetrics/internal/storage/sqlite"
	transport "github.com/MaheshSundaramurthy/botmetrics/internal/transport/http"
)

// backend is what both store drivers provide.
type backend interface {
	relax.Store
	transport.StatsStore
	CreateBot(ctx context.Context, b *domain.Bot) error
	CreateBotInstance(ctx context.Context, bi *domain.BotInstance) error
	SetWebhookURL(ctx context.Context, botID int64, url *string) error
	Close() error
}

// openBackend connects the configured store. With migrate set the postgres
// schema is applied from the migrations directory; sqlite always applies
// its embedded schema.
func openBackend(ctx context.Context, cfg config.StoreConfig, migrate bool) (backend, error) {
	switch cfg.Driver {
	case "postgres", "":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if migrate {
			n, err := db.RunMigrations(ctx, cfg.MigrationsDir)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("migration: %w", err)
			}
			logger.Info().Int("files", n).Msg("db: migrations applied")
		}
		return db, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, &domain.ConfigurationError{Msg: fmt.Sprintf("unknown store driver %q", cfg.Driver)}
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, error) {
	switch cfg.Driver {
	case "amqp", "":
		return queue.NewAMQP(ctx, queue.AMQPOptions{
			URL:           cfg.AMQPURL,
			Exchange:      cfg.Exchange,
			Producer:      cfg.Producer,
			RetryAttempts: cfg.DialAttempts,
			Delay:         cfg.DialDelay,
		})
	case "log":
		return queue.NewFallback(), nil
	}
	return nil, &domain.ConfigurationError{Msg: fmt.Sprintf("unknown queue driver %q", cfg.Driver)}
}
