package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	h := NewTextHandler(&buf, nil)
	r := slog.NewRecord(time.Date(2026, 1, 19, 10, 30, 0, 0, time.UTC), slog.LevelInfo, "Stream established", 0)
	r.AddAttrs(
		slog.String("client_id", "c-1"),
		slog.Int("count", 3),
		slog.Bool("ok", true),
		slog.Duration("wait", 2*time.Second),
	)

	require.NoError(t, h.Handle(context.Background(), r))
	assert.Equal(t, "2026-01-19T10:30:00Z: [INFO] Stream established client_id=c-1 count=3 ok=true wait=2s\n", buf.String())
}

func TestTextHandler_Quoting(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, nil))

	logger.Info("msg", "reason", "client send buffer full", "empty", "", "error", errors.New("dial tcp: refused"))

	out := buf.String()
	assert.Contains(t, out, `reason="client send buffer full"`)
	assert.Contains(t, out, `empty=""`)
	assert.Contains(t, out, `error="dial tcp: refused"`)
}

func TestTextHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] shown")
}

func TestTextHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, nil)).
		With("component", "gateway").
		WithGroup("conn").
		With("id", "c-1")

	logger.Info("closed", slog.Group("stats", slog.Int("sent", 4)))

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasSuffix(line, "closed component=gateway conn.id=c-1 conn.stats.sent=4"), line)
}

func TestTextHandler_DerivedHandlersShareWriter(t *testing.T) {
	var buf bytes.Buffer
	base := NewTextHandler(&buf, nil)
	a := slog.New(base.WithAttrs([]slog.Attr{slog.String("side", "a")}))
	b := slog.New(base.WithGroup(""))

	a.Info("one")
	b.Info("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "one side=a")
	assert.Contains(t, lines[1], "two")
}
