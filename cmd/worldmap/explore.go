package main

import (
	"context"
	"flag"
	"time"

	"github.com/OCharnyshevich/worldmap/internal/worldmap"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/config"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/sampler"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/storage"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/world"
)

func explore(ctx context.Context, args []string) error {
	cfg := config.DefaultConfig()
	fs := flag.NewFlagSet("explore", flag.ExitOnError)
	path := commonFlags(fs, cfg)
	fs.IntVar(&cfg.RenderDistance, "render-distance", cfg.RenderDistance, "render distance in game chunks")
	fs.IntVar(&cfg.ViewRange, "view-range", cfg.ViewRange, "blocks kept around the browsed position")
	fs.DurationVar(&cfg.AutosaveInterval, "autosave", cfg.AutosaveInterval, "chunk autosave interval")
	fs.IntVar(&cfg.SaveWorkers, "save-workers", cfg.SaveWorkers, "regions flushed in parallel")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "terrain seed")

	var (
		save    = fs.String("save", "", "singleplayer save directory; the map goes to <save>/lambdamap")
		server  = fs.String("server", "", "server name; the map goes under <dir>/<server_address>/<seed>/<dimension>")
		address = fs.String("address", "localhost", "server address")
		dim     = fs.String("dimension", "minecraft:overworld", "dimension identifier")
		steps   = fs.Int("steps", 64, "number of moves")
		dx      = fs.Int("dx", 16, "X blocks per move")
		dz      = fs.Int("dz", 0, "Z blocks per move")
		radius  = fs.Int("radius", 0, "game chunks available around the origin; 0 = unlimited")
		delay   = fs.Duration("delay", 0, "pause between moves")
	)
	log, err := loadConfig(fs, cfg, path, args)
	if err != nil {
		return err
	}

	dir := cfg.Dir
	switch {
	case *save != "":
		dir = storage.SingleplayerDir(*save)
	case *server != "":
		dir = storage.MultiplayerDir(cfg.Dir, *server, *address, cfg.Seed, *dim)
	}

	terrain := sampler.NewTerrain(cfg.Seed)
	terrain.Radius = *radius

	sess, err := worldmap.Open(cfg, dir, worldmap.Options{Sampler: terrain, Logger: log})
	if err != nil {
		return err
	}

	pos := sess.World().LivePos()
	start := time.Now()
	changed, moves := 0, 0
	for ; moves < *steps && ctx.Err() == nil; moves++ {
		changed += sess.Move(pos)
		pos = world.Pos{X: pos.X + *dx, Z: pos.Z + *dz}
		if *delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(*delay):
			}
		}
	}

	log.Info("explored",
		"moves", moves,
		"changed", changed,
		"loadedChunks", sess.World().LoadedChunks(),
		"loadedRegions", sess.World().LoadedRegions(),
		"elapsed", time.Since(start).Round(time.Millisecond))

	// Flush even when interrupted.
	return sess.Close(context.WithoutCancel(ctx))
}
