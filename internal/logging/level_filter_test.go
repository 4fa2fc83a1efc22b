package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFilter_DropsBelowMinimum(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLevelFilter(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}), slog.LevelWarn))

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	out := buf.String()
	assert.NotContains(t, out, `"msg":"debug"`)
	assert.NotContains(t, out, `"msg":"info"`)
	assert.Contains(t, out, `"msg":"warn"`)
	assert.Contains(t, out, `"msg":"error"`)
}

func TestLevelFilter_Enabled(t *testing.T) {
	ctx := context.Background()
	inner := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError})
	filter := NewLevelFilter(inner, slog.LevelWarn)

	assert.False(t, filter.Enabled(ctx, slog.LevelInfo))
	assert.False(t, filter.Enabled(ctx, slog.LevelWarn), "inner handler still applies its own level")
	assert.True(t, filter.Enabled(ctx, slog.LevelError))
}

func TestLevelFilter_HandleBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	filter := NewLevelFilter(slog.NewJSONHandler(&buf, nil), slog.LevelError)

	err := filter.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "skipped", 0))
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestLevelFilter_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLevelFilter(slog.NewJSONHandler(&buf, nil), slog.LevelWarn)).
		With("component", "gateway").
		WithGroup("conn")

	logger.Info("hidden")
	logger.Warn("visible", "id", "c-1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"gateway"`)
	assert.Contains(t, out, `"conn":{"id":"c-1"}`)
}
