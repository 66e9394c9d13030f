package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

// storageRuntime — выбранное хранилище и порты, которые отдаются сервисам и воркерам.
type storageRuntime struct {
	tx              domain.TxManager
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// initStorage открывает хранилище по cfg.StorageDriver. m может быть nil.
func initStorage(ctx context.Context, cfg Config, m *metrics.FulfillmentMetrics, logger *log.Entry) (*storageRuntime, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return &storageRuntime{
			tx:              store,
			outboxRepo:      store.Repos().Outbox,
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewPingChecker("storage", store),
			closeFn:         func() error { return nil },
		}, nil
	case StorageDriverPostgres:
		return openPostgres(ctx, cfg, m, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func openPostgres(ctx context.Context, cfg Config, m *metrics.FulfillmentMetrics, logger *log.Entry) (*storageRuntime, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required for storage driver %q", StorageDriverPostgres)
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	policy := postgres.DefaultRetryPolicy()
	if cfg.TxMaxAttempts > 0 {
		policy.MaxAttempts = cfg.TxMaxAttempts
	}
	policy.OnRetry = func(attempt int, err error) {
		m.RecordTxRetry()
		logger.WithError(err).WithField("attempt", attempt).Warn("postgres transaction retried")
	}
	store.SetRetryPolicy(policy)

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
	}
	state, err := store.MigrationStatus(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("read postgres schema version: %w", err)
	}
	entry := logger.WithFields(log.Fields{"schema_version": state.CurrentVersion, "pending_migrations": state.Pending})
	if state.Pending > 0 {
		entry.Warn("postgres schema is behind, run cmd/migrate")
	} else {
		entry.Info("using postgres storage")
	}

	return &storageRuntime{
		tx:              store,
		outboxRepo:      store.Repos().Outbox,
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("storage", store),
		closeFn:         store.Close,
	}, nil
}
