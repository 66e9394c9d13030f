// Команда migrate применяет и откатывает миграции схемы fulfillment.
//
//	migrate [-dsn DSN] [-steps N] up|down|status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const dsnEnv = "FULFILLMENT_POSTGRES_DSN"

type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

// connect подменяется в тестах.
var connect = func(ctx context.Context, dsn string) (schema, error) {
	return postgres.Open(ctx, dsn)
}

type command struct {
	action  string
	dsn     string
	steps   int
	timeout time.Duration
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cmd, err := parseCommand(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cmd.run(context.Background(), os.Stdout); err != nil {
		log.WithError(err).WithField("action", cmd.action).Error("migration failed")
		os.Exit(1)
	}
}

func parseCommand(args []string, getenv func(string) string) (command, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cmd := command{}
	fs.StringVar(&cmd.dsn, "dsn", getenv(dsnEnv), "PostgreSQL DSN")
	fs.IntVar(&cmd.steps, "steps", 0, "migrations to apply (up: 0 = all) or roll back (down: 0 = 1)")
	fs.DurationVar(&cmd.timeout, "timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return command{}, err
	}

	switch fs.NArg() {
	case 0:
		cmd.action = "up"
	case 1:
		cmd.action = strings.ToLower(fs.Arg(0))
	default:
		return command{}, fmt.Errorf("expected one action, got %q", fs.Args())
	}
	switch cmd.action {
	case "up", "down", "status":
	default:
		return command{}, fmt.Errorf("unknown action %q: use up, down or status", cmd.action)
	}

	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.dsn == "" {
		return command{}, fmt.Errorf("no database: pass -dsn or set %s", dsnEnv)
	}
	if cmd.steps < 0 {
		return command{}, errors.New("-steps must not be negative")
	}
	if cmd.action == "down" && cmd.steps == 0 {
		cmd.steps = 1
	}
	return cmd, nil
}

func (c command) run(ctx context.Context, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	db, err := connect(ctx, c.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = db.Close() }()

	before, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch c.action {
	case "up":
		err = db.MigrateUp(ctx, c.steps)
	case "down":
		err = db.MigrateDown(ctx, c.steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", c.action, err)
	}

	after, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	_, err = fmt.Fprintln(out, describe(c.action, before, after))
	return err
}

func describe(action string, before, after postgres.MigrationState) string {
	line := fmt.Sprintf("schema at version %d (%d applied, %d pending)", after.CurrentVersion, after.Applied, after.Pending)
	if action == "status" || before.CurrentVersion == after.CurrentVersion {
		return line
	}
	return fmt.Sprintf("%s: %d -> %d, %s", action, before.CurrentVersion, after.CurrentVersion, line)
}
