package storage

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/world"
	"github.com/OCharnyshevich/worldmap/pkg/world/region"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSingleplayerDir(t *testing.T) {
	assert.Equal(t, filepath.Join("saves", "New World", "lambdamap"), SingleplayerDir(filepath.Join("saves", "New World")))
}

func TestMultiplayerDir(t *testing.T) {
	got := MultiplayerDir("game", "My Server!", "mc.example.org:25565", -4172144997902289642, "minecraft:the_nether")
	want := filepath.Join("game", "lambdamap", "My_Server__mc.example.org_25565", "-4172144997902289642", "minecraft", "the_nether")
	assert.Equal(t, want, got)

	got = MultiplayerDir("game", "s", "a", 1, "overworld")
	assert.Equal(t, filepath.Join("game", "lambdamap", "s_a", "1", "minecraft", "overworld"), got)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_b.c_1_", SanitizeName("a b.c-1/"))
}

func TestMetadata(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "map")
	s, err := New(dir, discard)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	md, err := s.LoadMetadata()
	require.NoError(t, err)
	assert.Nil(t, md)

	require.NoError(t, s.SaveMetadata(&Metadata{Name: "test", LastPosX: 12, LastPosZ: -3}))
	assert.NoFileExists(t, filepath.Join(dir, MetadataFile+".tmp"))

	md, err = s.LoadMetadata()
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, MetadataVersion, md.Version)
	assert.Equal(t, "test", md.Name)
	assert.Equal(t, 12, md.LastPosX)
	assert.Equal(t, -3, md.LastPosZ)
	assert.False(t, md.Created.IsZero())

	created := md.Created
	require.NoError(t, s.SaveMetadata(md))
	md, err = s.LoadMetadata()
	require.NoError(t, err)
	assert.True(t, created.Equal(md.Created), "created is kept")
}

func TestMetadataNewerVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`{"version": 99}`), 0o644))

	s, err := New(dir, discard)
	require.NoError(t, err)
	_, err = s.LoadMetadata()
	assert.ErrorContains(t, err, "newer")
}

func TestRegions(t *testing.T) {
	dir := t.TempDir()
	for _, p := range [][2]int{{1, 0}, {-3, 2}, {0, 0}} {
		rf, err := region.LoadOrCreate(dir, p[0], p[1], discard)
		require.NoError(t, err)
		require.NoError(t, rf.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, MarkersFile), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "region_1_x.lmr"), nil, 0o644))

	s, err := New(dir, discard)
	require.NoError(t, err)
	got, err := s.Regions()
	require.NoError(t, err)
	assert.Equal(t, []world.RegionPos{{X: 0, Z: 0}, {X: 1, Z: 0}, {X: -3, Z: 2}}, got)
	assert.Equal(t, filepath.Join(dir, MarkersFile), s.MarkersPath())
}
