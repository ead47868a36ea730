package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammography-findings-server/internal/domain"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(domain.LoggingConfig{})
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stdout, logger.Out)
}

func TestNewLogger_TextToStderr(t *testing.T) {
	logger, err := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)
}

func TestNewLogger_FileOutputUsesRenamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewLogger(domain.LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.WithField("study_id", "S1").Info("Study evaluation completed")
	if c, ok := logger.Out.(interface{ Close() error }); ok {
		require.NoError(t, c.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "Study evaluation completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "S1", entry["study_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(domain.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(domain.LoggingConfig{Format: "xml"})
	assert.Error(t, err)

	_, err = NewLogger(domain.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
