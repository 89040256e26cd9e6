package main

import (
	"context"
	"flag"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/config"
	"github.com/OCharnyshevich/worldmap/pkg/world/region"
)

func compact(ctx context.Context, args []string) error {
	cfg := config.DefaultConfig()
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	path := commonFlags(fs, cfg)

	log, err := loadConfig(fs, cfg, path, args)
	if err != nil {
		return err
	}
	store, err := openExisting(cfg.Dir, log)
	if err != nil {
		return err
	}
	regions, err := store.Regions()
	if err != nil {
		return err
	}

	var total int64
	for _, rp := range regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		saved, err := region.Compact(store.Dir(), rp.X, rp.Z, log)
		if err != nil {
			log.Error("compact region", "x", rp.X, "z", rp.Z, "error", err)
			continue
		}
		total += saved
	}
	log.Info("compacted map", "regions", len(regions), "reclaimed", total)
	return nil
}
