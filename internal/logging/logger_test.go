package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/livefeed/internal/config"
)

func fileConfig(t *testing.T) config.LoggingConfig {
	t.Helper()
	cfg := config.DefaultLoggingConfig()
	cfg.Dir = t.TempDir()
	cfg.Console.Enabled = false
	return cfg
}

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(content)
}

func TestNewLogger_TextFormat(t *testing.T) {
	cfg := fileConfig(t)

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("Stream established", "client_id", "c-1")
	require.NoError(t, Shutdown())

	content := readLog(t, cfg.Dir, "livefeed.log")
	assert.Contains(t, content, "[INFO] Stream established client_id=c-1")
}

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := fileConfig(t)
	cfg.File.Format = "json"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("test json", "key", "value")
	require.NoError(t, Shutdown())

	content := readLog(t, cfg.Dir, "livefeed.log")
	assert.Contains(t, content, `"msg":"test json"`)
	assert.Contains(t, content, `"key":"value"`)
}

func TestNewLogger_ErrorLogSeparation(t *testing.T) {
	cfg := fileConfig(t)

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("info message")
	logger.Warn("warning message")
	logger.Error("error message")
	require.NoError(t, Shutdown())

	main := readLog(t, cfg.Dir, "livefeed.log")
	assert.Contains(t, main, "info message")
	assert.Contains(t, main, "warning message")
	assert.Contains(t, main, "error message")

	errs := readLog(t, cfg.Dir, "errors.log")
	assert.NotContains(t, errs, "info message")
	assert.Contains(t, errs, "warning message")
	assert.Contains(t, errs, "error message")
}

func TestNewLogger_ErrorLogDeduplicated(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Dedup.Window = time.Hour

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	feed := logger.With("component", "watcher")
	for i := 0; i < 4; i++ {
		feed.Warn("Change feed unavailable", "topic", "notifications")
	}
	require.NoError(t, Shutdown())

	main := readLog(t, cfg.Dir, "livefeed.log")
	assert.Equal(t, 4, strings.Count(main, "Change feed unavailable"))

	errs := readLog(t, cfg.Dir, "errors.log")
	assert.Equal(t, 2, strings.Count(errs, "Change feed unavailable"))
	assert.Contains(t, errs, "repeated_count=3")
}

func TestNewLogger_DedupDisabled(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Dedup.Enabled = false

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Warn("same")
	logger.Warn("same")
	require.NoError(t, Shutdown())

	assert.Equal(t, 2, strings.Count(readLog(t, cfg.Dir, "errors.log"), "same"))
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := fileConfig(t)
	cfg.File.Enabled = false

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("discarded")
	assert.NoFileExists(t, filepath.Join(cfg.Dir, "livefeed.log"))
}

func TestNewLogger_BadDirectory(t *testing.T) {
	cfg := fileConfig(t)
	blocker := filepath.Join(cfg.Dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	cfg.Dir = filepath.Join(blocker, "logs")

	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestInitialize_SetsDefaultLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := fileConfig(t)
	require.NoError(t, Initialize(cfg))
	slog.Info("global test message")
	require.NoError(t, Shutdown())

	content := readLog(t, cfg.Dir, "livefeed.log")
	assert.Contains(t, content, "Logging initialized")
	assert.Contains(t, content, "global test message")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}
