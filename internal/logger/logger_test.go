package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"replyhub/backend/internal/config"
)

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(Config{Level: "info", Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("webhook accepted", zap.String("platform", "instantly"))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "webhook accepted", entry["message"])
	assert.Equal(t, "instantly", entry["platform"])
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(Config{Level: "verbose", Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "replyhub.log")
	cfg := FromConfig(config.LogConfig{Level: "info", File: path})
	cfg.Output = &bytes.Buffer{}

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
