// Package worldmap ties the map storage engine together for one explored world.
package worldmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/config"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/schedule"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/storage"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/world"
)

// Sampler reads the game world. Sample fills the 16x16 game chunk through
// put, which takes absolute block coordinates, and returns false when the
// chunk is not available.
type Sampler interface {
	Sample(chunkX, chunkZ int, put func(x, z int, c world.Cell) bool) bool
}

// Options holds the collaborators of a Session.
type Options struct {
	Sampler Sampler
	// Scheduler runs chunk autosaves; nil runs a ticker owned by the session.
	Scheduler schedule.Scheduler
	Logger    *slog.Logger
}

// Session is the map of one world while it is being played.
type Session struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *storage.Storage
	world   *world.World
	sampler Sampler
	meta    *storage.Metadata
}

// Open opens the map stored in dir.
func Open(cfg *config.Config, dir string, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	store, err := storage.New(dir, log)
	if err != nil {
		return nil, err
	}
	meta, err := store.LoadMetadata()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &storage.Metadata{}
	}

	w := world.New(dir, world.Options{
		ViewRange:        cfg.ViewRange,
		AutosaveInterval: cfg.AutosaveInterval,
		SaveWorkers:      cfg.SaveWorkers,
		Filter:           world.AllowList(cfg.DetailBlocks),
		Scheduler:        opts.Scheduler,
	}, log)
	w.UpdateLivePos(world.Pos{X: meta.LastPosX, Z: meta.LastPosZ})

	log.Info("opened world map", "dir", dir, "lastX", meta.LastPosX, "lastZ", meta.LastPosZ)
	return &Session{
		cfg:     cfg,
		log:     log,
		store:   store,
		world:   w,
		sampler: opts.Sampler,
		meta:    meta,
	}, nil
}

// World returns the chunk cache.
func (s *Session) World() *world.World { return s.world }

// Storage returns the map directory.
func (s *Session) Storage() *storage.Storage { return s.store }

// GetCell returns the cell at absolute block coordinates.
func (s *Session) GetCell(x, z int, mode world.Mode) (world.Cell, bool) {
	return s.world.GetCell(x, z, mode)
}

// PutCell stores a cell. It returns true if the cell changed.
func (s *Session) PutCell(x, z int, c world.Cell) bool {
	return s.world.PutCell(x, z, c)
}

// SetBrowsing records whether a map browser is open.
func (s *Session) SetBrowsing(open bool) { s.world.SetBrowsing(open) }

// ImportMapState copies a map item image into the map.
func (s *Session) ImportMapState(m world.MapState) int {
	return s.world.ImportMapState(m)
}

// Tick samples the game chunks around live, then unloads the map chunks
// outside the retention boxes. It returns the number of changed cells.
func (s *Session) Tick(live, view world.Pos) int {
	d := world.RetentionDistance(s.cfg.RenderDistance)
	changed := s.sample(live, d)
	s.world.Tick(live, view, d)
	return changed
}

// Move records the observer position and ticks with the resulting view position.
func (s *Session) Move(live world.Pos) int {
	s.world.UpdateLivePos(live)
	return s.Tick(live, s.world.ViewPos())
}

func (s *Session) sample(live world.Pos, d int) int {
	if s.sampler == nil {
		return 0
	}

	gx, gz := live.X>>4, live.Z>>4
	changed := 0
	for x := gx - d; x <= gx+d; x++ {
		for z := gz - d; z <= gz+d; z++ {
			c := s.world.GetOrCreate(x>>3, z>>3)
			s.sampler.Sample(x, z, func(bx, bz int, cell world.Cell) bool {
				if !c.IsBlockIn(bx, bz) {
					return s.world.PutCell(bx, bz, cell)
				}
				if c.PutCell(bx, bz, cell) {
					changed++
					return true
				}
				return false
			})
		}
	}
	return changed
}

// Close saves every chunk, closes the region files and records the last
// observer position.
func (s *Session) Close(ctx context.Context) error {
	live := s.world.LivePos()
	s.meta.LastPosX, s.meta.LastPosZ = live.X, live.Z

	err := s.world.Close(ctx)
	if serr := s.store.SaveMetadata(s.meta); serr != nil {
		err = errors.Join(err, serr)
	}
	s.log.Info("closed world map", "dir", s.store.Dir())
	return err
}
