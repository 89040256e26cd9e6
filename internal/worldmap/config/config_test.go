package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "worldmap.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dir: /tmp/maps
render_distance: 8
autosave_interval: 90s
detail_blocks:
  - minecraft:vine
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/maps", cfg.Dir)
	assert.Equal(t, 8, cfg.RenderDistance)
	assert.Equal(t, 90*time.Second, cfg.AutosaveInterval)
	assert.Equal(t, []string{"minecraft:vine"}, cfg.DetailBlocks)
	assert.Equal(t, 12800, cfg.ViewRange, "unset fields keep defaults")
	assert.Equal(t, 4, cfg.SaveWorkers)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render_distance: [1"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldmap.yaml")
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.AutosaveInterval = 2 * time.Minute

	require.NoError(t, Save(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestMergeRespectsExplicitFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = "from-flag"
	cfg.Seed = 7

	fromFile := DefaultConfig()
	fromFile.Dir = "from-file"
	fromFile.Seed = 99
	fromFile.RenderDistance = 32
	fromFile.DetailBlocks = []string{"*_leaves"}

	Merge(cfg, fromFile, map[string]bool{"dir": true})

	assert.Equal(t, "from-flag", cfg.Dir)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 32, cfg.RenderDistance)
	assert.Equal(t, []string{"*_leaves"}, cfg.DetailBlocks)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = ""
	cfg.SaveWorkers = 0
	cfg.AutosaveInterval = time.Millisecond
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "dir must not be empty")
	assert.ErrorContains(t, err, "save_workers")
	assert.ErrorContains(t, err, "autosave_interval")
	assert.ErrorContains(t, err, "log_level")
}
