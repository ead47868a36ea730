package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 0.8, cfg.DetectionConfidence)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	cfg, err := LoadLiteConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultLiteConfig(), cfg)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MAMMO_DATA_DIR", "/tmp/test-mammo")
	t.Setenv("MAMMO_CACHE_MAX_ITEMS", "500")
	t.Setenv("MAMMO_CACHE_TTL", "12h")
	t.Setenv("MAMMO_RULES_FILE", "/etc/rules.yaml")
	t.Setenv("MAMMO_WORKERS", "8")
	t.Setenv("MAMMO_DETECTION_CONFIDENCE", "0.5")
	t.Setenv("MAMMO_TRANSPORT", "http")
	t.Setenv("MAMMO_HTTP_PORT", "9090")
	t.Setenv("MAMMO_LOG_LEVEL", "debug")
	t.Setenv("MAMMO_LANGUAGE", "es")

	cfg, err := LoadLiteConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test-mammo", cfg.DataDir)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "/etc/rules.yaml", cfg.RulesFile)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 0.5, cfg.DetectionConfidence)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)

	engine := cfg.Engine()
	assert.Equal(t, "/etc/rules.yaml", engine.RulesFile)
	assert.Equal(t, 8, engine.Workers)
	assert.Equal(t, "es", engine.DefaultLanguage)
}

func TestLoadLiteConfig_Invalid(t *testing.T) {
	t.Run("unparseable number", func(t *testing.T) {
		t.Setenv("MAMMO_HTTP_PORT", "eighty")
		_, err := LoadLiteConfig()
		assert.Error(t, err)
	})

	t.Run("non-positive workers", func(t *testing.T) {
		t.Setenv("MAMMO_WORKERS", "0")
		_, err := LoadLiteConfig()
		assert.Error(t, err)
	})
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.mammography-findings"}

	assert.Equal(t, "/home/user/.mammography-findings/reviews.db", cfg.FeedbackDBPath())
	assert.Equal(t, "/home/user/.mammography-findings/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "mammo")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(cfg.DataDir)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}
