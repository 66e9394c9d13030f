package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand(nil, env(map[string]string{dsnEnv: " postgres://localhost/fulfillment "}))
	require.NoError(t, err)
	require.Equal(t, command{action: "up", dsn: "postgres://localhost/fulfillment", timeout: 30 * time.Second}, cmd)

	cmd, err = parseCommand([]string{"-dsn=postgres://x", "DOWN"}, env(nil))
	require.NoError(t, err)
	require.Equal(t, "down", cmd.action)
	require.Equal(t, 1, cmd.steps, "down rolls back one migration by default")

	cmd, err = parseCommand([]string{"-dsn=postgres://x", "-steps=2", "-timeout=5s", "up"}, env(nil))
	require.NoError(t, err)
	require.Equal(t, 2, cmd.steps)
	require.Equal(t, 5*time.Second, cmd.timeout)
}

func TestParseCommand_Rejects(t *testing.T) {
	cases := map[string][]string{
		"no database":          {"status"},
		"unknown action":       {"-dsn=postgres://x", "redo"},
		"expected one":         {"-dsn=postgres://x", "up", "down"},
		"must not be negative": {"-dsn=postgres://x", "-steps=-1", "up"},
	}
	for want, args := range cases {
		_, err := parseCommand(args, env(nil))
		require.ErrorContains(t, err, want)
	}

	_, err := parseCommand([]string{"-help"}, env(nil))
	require.ErrorIs(t, err, flag.ErrHelp)
}

// fakeSchema эмулирует версионированную схему из total миграций.
type fakeSchema struct {
	version int64
	total   int64
	upErr   error
	closed  bool
}

func (f *fakeSchema) MigrateUp(_ context.Context, steps int) error {
	if f.upErr != nil {
		return f.upErr
	}
	if steps == 0 {
		f.version = f.total
		return nil
	}
	f.version = min(f.total, f.version+int64(steps))
	return nil
}

func (f *fakeSchema) MigrateDown(_ context.Context, steps int) error {
	f.version = max(0, f.version-int64(steps))
	return nil
}

func (f *fakeSchema) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	return postgres.MigrationState{CurrentVersion: f.version, Applied: int(f.version), Pending: int(f.total - f.version)}, nil
}

func (f *fakeSchema) Close() error {
	f.closed = true
	return nil
}

func useSchema(t *testing.T, db *fakeSchema, connErr error) {
	t.Helper()
	original := connect
	t.Cleanup(func() { connect = original })
	connect = func(context.Context, string) (schema, error) {
		if connErr != nil {
			return nil, connErr
		}
		return db, nil
	}
}

func TestRun_Actions(t *testing.T) {
	db := &fakeSchema{version: 1, total: 3}
	useSchema(t, db, nil)

	var out bytes.Buffer
	require.NoError(t, command{action: "up", dsn: "x", timeout: time.Second}.run(context.Background(), &out))
	require.Equal(t, "up: 1 -> 3, schema at version 3 (3 applied, 0 pending)\n", out.String())
	require.True(t, db.closed)

	out.Reset()
	require.NoError(t, command{action: "down", dsn: "x", steps: 2, timeout: time.Second}.run(context.Background(), &out))
	require.True(t, strings.HasPrefix(out.String(), "down: 3 -> 1"))

	out.Reset()
	require.NoError(t, command{action: "status", dsn: "x", timeout: time.Second}.run(context.Background(), &out))
	require.Equal(t, "schema at version 1 (1 applied, 2 pending)\n", out.String())
}

func TestRun_Failures(t *testing.T) {
	useSchema(t, nil, errors.New("connection refused"))
	err := command{action: "up", dsn: "x", timeout: time.Second}.run(context.Background(), &bytes.Buffer{})
	require.EqualError(t, err, "connect: connection refused")

	db := &fakeSchema{total: 2, upErr: errors.New("syntax error at 0002")}
	useSchema(t, db, nil)
	err = command{action: "up", dsn: "x", timeout: time.Second}.run(context.Background(), &bytes.Buffer{})
	require.ErrorContains(t, err, "migrate up: syntax error")
	require.True(t, db.closed)
}

func TestRun_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("FULFILLMENT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("FULFILLMENT_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	store, err := postgres.Open(ctx, dsn)
	cancel()
	if err != nil {
		t.Skipf("postgres is unreachable: %v", err)
	}
	_ = store.Close()

	for _, action := range []string{"status", "up", "down", "up"} {
		cmd, err := parseCommand([]string{"-dsn=" + dsn, "-timeout=20s", action}, env(nil))
		require.NoError(t, err)
		var out bytes.Buffer
		require.NoError(t, cmd.run(context.Background(), &out))
		require.Contains(t, out.String(), "schema at version")
	}
}
