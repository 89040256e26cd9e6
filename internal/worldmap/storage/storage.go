package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/world"
	"github.com/OCharnyshevich/worldmap/pkg/world/region"
)

const (
	// Namespace names the map directory inside a save or game directory.
	Namespace = "lambdamap"
	// MetadataFile describes the map stored in a directory.
	MetadataFile = "map.json"
	// MarkersFile holds the marker list next to the region files.
	MarkersFile = "markers.nbt"
	// ConfigFile is the default config file name.
	ConfigFile = "worldmap.yaml"
)

// MetadataVersion is the current map.json format.
const MetadataVersion = 1

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.]`)

// SingleplayerDir returns the map directory of a local save.
func SingleplayerDir(saveDir string) string {
	return filepath.Join(saveDir, Namespace)
}

// MultiplayerDir returns the map directory of a server world:
// <gameDir>/lambdamap/<name_address>/<hashedSeed>/<namespace>/<path>.
// dimension is an identifier such as "minecraft:overworld".
func MultiplayerDir(gameDir, serverName, serverAddress string, hashedSeed int64, dimension string) string {
	ns, path, ok := strings.Cut(dimension, ":")
	if !ok {
		ns, path = "minecraft", dimension
	}
	return filepath.Join(
		gameDir,
		Namespace,
		SanitizeName(serverName+"_"+serverAddress),
		fmt.Sprint(hashedSeed),
		ns,
		filepath.FromSlash(path),
	)
}

// SanitizeName replaces every character outside [A-Za-z0-9_.] with '_'.
func SanitizeName(s string) string {
	return unsafeName.ReplaceAllString(s, "_")
}

// Metadata describes a map directory.
type Metadata struct {
	Version  int       `json:"version"`
	Name     string    `json:"name,omitempty"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
	LastPosX int       `json:"last_pos_x"`
	LastPosZ int       `json:"last_pos_z"`
}

// Storage handles the files of one map directory.
type Storage struct {
	dir string
	log *slog.Logger
}

// New creates a new Storage rooted at dir, creating it as needed.
func New(dir string, log *slog.Logger) (*Storage, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	return &Storage{dir: dir, log: log}, nil
}

// Dir returns the map directory. Region files live directly in it.
func (s *Storage) Dir() string { return s.dir }

// MarkersPath returns the path of the marker list.
func (s *Storage) MarkersPath() string {
	return filepath.Join(s.dir, MarkersFile)
}

// LoadMetadata reads map.json and returns the data, or nil if not found.
func (s *Storage) LoadMetadata() (*Metadata, error) {
	path := filepath.Join(s.dir, MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if md.Version > MetadataVersion {
		return nil, fmt.Errorf("metadata version %d is newer than supported %d", md.Version, MetadataVersion)
	}
	return &md, nil
}

// SaveMetadata writes map.json atomically, stamping its version and update time.
func (s *Storage) SaveMetadata(md *Metadata) error {
	md.Version = MetadataVersion
	md.Updated = time.Now().UTC()
	if md.Created.IsZero() {
		md.Created = md.Updated
	}
	path := filepath.Join(s.dir, MetadataFile)
	if err := s.atomicWriteJSON(path, md); err != nil {
		return err
	}
	s.log.Debug("saved map metadata", "path", path)
	return nil
}

// Regions lists the region files in the directory, sorted by Z then X.
func (s *Storage) Regions() ([]world.RegionPos, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}

	var out []world.RegionPos
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var x, z int
		if _, err := fmt.Sscanf(e.Name(), "region_%d_%d.lmr", &x, &z); err != nil {
			continue
		}
		if e.Name() != region.FileName(x, z) {
			continue
		}
		out = append(out, world.RegionPos{X: x, Z: z})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		return out[i].X < out[j].X
	})
	return out, nil
}

// atomicWriteJSON marshals v to JSON and writes it atomically using a temp file + rename.
func (s *Storage) atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
