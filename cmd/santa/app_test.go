package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretsanta/internal/platform/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Store:            config.StoreMemory,
		TxTimeout:        time.Second,
		NotifyBuffer:     8,
		DrawMaxAttempts:  3,
		DrawRetryBackoff: time.Millisecond,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewAppWiresMemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, memoryConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	for _, address := range []string{"ann@x.io", "bob@x.io"} {
		_, err := a.directory.Add(ctx, address, "")
		require.NoError(t, err)
	}
	_, err = a.exchange.Start(ctx, nil)
	require.NoError(t, err)

	match, err := a.exchange.Draw(ctx, "ann@x.io")
	require.NoError(t, err)
	assert.Equal(t, "bob@x.io", match.Receiver)

	families, err := a.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Nil(t, a.health)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

func TestServeFlushesNotificationsFromDrainingRequests(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	a, err := newApp(context.Background(), memoryConfig(t), logger)
	require.NoError(t, err)
	for _, address := range []string{"ann@x.io", "bob@x.io"} {
		_, err := a.directory.Add(context.Background(), address, "")
		require.NoError(t, err)
	}
	_, err = a.exchange.Start(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = serve(ctx, a, logger, func(ctx context.Context) error {
		<-ctx.Done()
		// A request accepted before shutdown still completes and notifies.
		_, err := a.exchange.Draw(context.WithoutCancel(ctx), "ann@x.io")
		require.NoError(t, err)
		return ctx.Err()
	})
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, "kind=match_drawn")
	assert.NotContains(t, out, "failed to publish notification")
	assert.Contains(t, out, "server stopped")
}

func TestServeReturnsServerErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), memoryConfig(t), logger)
	require.NoError(t, err)

	boom := errors.New("listen tcp: address already in use")
	err = serve(context.Background(), a, logger, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, a.publisher)
}

func TestHealthRunsEveryCheck(t *testing.T) {
	a := &app{}
	assert.Nil(t, a.health)

	down := errors.New("connection refused")
	a.addCheck(func(context.Context) error { return nil })
	require.NoError(t, a.health(context.Background()))

	a.addCheck(func(context.Context) error { return down })
	assert.ErrorIs(t, a.health(context.Background()), down)
}
