package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/config"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/storage"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/world"
	"github.com/OCharnyshevich/worldmap/pkg/world/cellrecord"
	"github.com/OCharnyshevich/worldmap/pkg/world/region"
)

func inspect(ctx context.Context, args []string) error {
	cfg := config.DefaultConfig()
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	path := commonFlags(fs, cfg)
	chunks := fs.Bool("chunks", false, "list every stored chunk")

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

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "REGION\tCHUNKS\tBYTES\tCORRUPT")
	for _, rp := range regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := inspectRegion(tw, store.Dir(), rp, *chunks, log); err != nil {
			log.Error("inspect region", "x", rp.X, "z", rp.Z, "error", err)
		}
	}
	return nil
}

func openExisting(dir string, log *slog.Logger) (*storage.Storage, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("map directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("map directory %s is not a directory", dir)
	}
	return storage.New(dir, log)
}

type chunkStats struct {
	x, z    int
	size    int
	colored int
	biomes  int
	palette int
	err     error
}

func inspectRegion(w io.Writer, dir string, rp world.RegionPos, listChunks bool, log *slog.Logger) error {
	rf, err := region.Load(dir, rp.X, rp.Z, log)
	if err != nil {
		return err
	}
	if rf == nil {
		return nil
	}
	defer rf.Close()

	info, err := os.Stat(rf.Path())
	if err != nil {
		return err
	}

	var stats []chunkStats
	corrupt := 0
	for i, off := range rf.Entries() {
		if off == region.Absent {
			continue
		}
		lx, lz := i%region.ChunksPerSide, i/region.ChunksPerSide
		s := chunkStats{x: rp.X<<world.RegionShift + lx, z: rp.Z<<world.RegionShift + lz}

		data, err := rf.ReadRecord(lx, lz)
		if err == nil {
			s.size = len(data)
			var rec *cellrecord.Record
			rec, err = cellrecord.Decode(data)
			if err == nil {
				s.colored, s.biomes, s.palette = summarize(rec)
			}
		}
		if err != nil {
			if !errors.Is(err, region.ErrCorruptChunk) && !errors.Is(err, cellrecord.ErrCorrupt) {
				return err
			}
			s.err = err
			corrupt++
		}
		stats = append(stats, s)
	}

	fmt.Fprintf(w, "%d,%d\t%d\t%d\t%d\n", rp.X, rp.Z, len(stats), info.Size(), corrupt)
	if listChunks {
		for _, s := range stats {
			if s.err != nil {
				fmt.Fprintf(w, "  chunk %d,%d\t\t%d\tcorrupt: %v\n", s.x, s.z, s.size, s.err)
				continue
			}
			fmt.Fprintf(w, "  chunk %d,%d\t%d colored\t%d\t%d biomes, %d detail blocks\n",
				s.x, s.z, s.colored, s.size, s.biomes, s.palette)
		}
	}
	return nil
}

func summarize(rec *cellrecord.Record) (colored, biomes, palette int) {
	seenBiomes := make(map[cellrecord.BiomeRef]bool)
	seenBlocks := make(map[cellrecord.BlockRef]bool)
	for i := 0; i < cellrecord.Size; i++ {
		if rec.Colors[i] != 0 {
			colored++
		}
		if b := rec.Biomes[i]; b != "" {
			seenBiomes[b] = true
		}
		if b := rec.Blocks[i]; b != "" {
			seenBlocks[b] = true
		}
	}
	return colored, len(seenBiomes), len(seenBlocks)
}
