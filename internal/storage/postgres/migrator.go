package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// schemaLockKey — ключ pg_advisory_lock, под которым реплики применяют миграции по очереди.
const schemaLockKey int64 = 20261019

const schemaLockTimeout = 5 * time.Second

const schemaTableDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    BIGINT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// MigrateUp применяет ожидающие миграции; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, set migrationSet, applied map[int64]bool) error {
		for _, m := range set.pending(applied, steps) {
			if err := applyMigration(ctx, conn, m, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	steps = max(steps, 1)
	return s.withSchemaLock(ctx, func(conn *sql.Conn, set migrationSet, applied map[int64]bool) error {
		plan, err := set.rollback(applied, steps)
		if err != nil {
			return err
		}
		for _, m := range plan {
			if err := applyMigration(ctx, conn, m, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus читает состояние схемы без advisory lock.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	set, err := parseMigrations(embeddedMigrations, migrationsDir)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, schemaLockTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schemaTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}
	return set.state(applied), nil
}

func (s *Store) withSchemaLock(ctx context.Context, fn func(*sql.Conn, migrationSet, map[int64]bool) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	set, err := parseMigrations(embeddedMigrations, migrationsDir)
	if err != nil {
		return err
	}

	// advisory lock держится на сессии, поэтому всё идёт через одно соединение
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, schemaLockTimeout)
	_, err = conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockKey)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, schemaLockKey) //nolint:errcheck

	if _, err := conn.ExecContext(ctx, schemaTableDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, set, applied)
}

// applyMigration выполняет скрипт и правку schema_migrations одной транзакцией.
func applyMigration(ctx context.Context, conn *sql.Conn, m migration, up bool) error {
	script, record, args := m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	direction := "down"
	if up {
		script, record, args = m.UpSQL, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, []any{m.Version, m.Name}
		direction = "up"
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %s %s: begin: %w", direction, m, err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrate %s %s: %w", direction, m, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrate %s %s: record version: %w", direction, m, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate %s %s: commit: %w", direction, m, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, q dbtx) (map[int64]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int64]bool{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("read schema_migrations: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
