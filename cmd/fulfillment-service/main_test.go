package main

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	setupLogger("debug")
	require.Equal(t, log.DebugLevel, log.GetLevel())

	setupLogger("chatty")
	require.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestRun_InvalidEnvironment(t *testing.T) {
	t.Setenv("FULFILLMENT_STORAGE_DRIVER", "postgres")
	t.Setenv("FULFILLMENT_POSTGRES_DSN", "")

	err := run(context.Background())
	require.ErrorContains(t, err, "postgres DSN is required")
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Setenv("FULFILLMENT_GRPC_ADDR", "127.0.0.1:0")
	t.Setenv("FULFILLMENT_METRICS_ADDR", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	require.NoError(t, run(ctx))
}
