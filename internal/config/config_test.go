package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dragcal/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "monday", cfg.WeekStart)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, 7, cfg.HorizonDays)
	assert.Equal(t, 40.0, cfg.Drag.PxPerDay)
	assert.Equal(t, 1.0, cfg.Drag.PxPerMinute)
	assert.False(t, cfg.Drag.LockTime)
	assert.Nil(t, cfg.BasicAuth)
	assert.NotNil(t, cfg.Feeds)
}

func TestNormalizeFillsZeros(t *testing.T) {
	cfg := &config.Config{
		WeekStart: "friday",
		Drag:      config.DragConfig{PxPerDay: -5},
	}
	cfg.Normalize()

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "monday", cfg.WeekStart, "unknown week start falls back")
	assert.Equal(t, 40.0, cfg.Drag.PxPerDay, "non-positive scale falls back")
	assert.Equal(t, 1.0, cfg.Drag.PxPerMinute)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotNil(t, cfg.Feeds)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := &config.Config{
		Listen:    "0.0.0.0:9000",
		WeekStart: "sunday",
		Drag:      config.DragConfig{PxPerDay: 80, PxPerMinute: 2, LockTime: true},
	}
	cfg.Normalize()

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "sunday", cfg.WeekStart)
	assert.Equal(t, 80.0, cfg.Drag.PxPerDay)
	assert.Equal(t, 2.0, cfg.Drag.PxPerMinute)
	assert.True(t, cfg.Drag.LockTime)
}

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	in := config.DefaultConfig()
	in.Listen = "127.0.0.1:9999"
	in.Timezone = "Asia/Seoul"
	in.Drag.LockTime = true
	in.Snap = config.SnapConfig{DOMURL: "http://127.0.0.1:9999/", Width: 800, Height: 600}
	in.Feeds = []config.FeedConfig{{ID: "work", Name: "Work", URL: "https://example.com/cal.ics"}}
	in.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	require.NoError(t, in.Save(path))

	out, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [not: closed"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := config.Load("")
	assert.Error(t, err)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, config.DefaultConfig().Save(filepath.Join(dir, "config.yaml")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.yaml", entries[0].Name())
}
