package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	get "github.com/hashicorp/go-getter"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/storage"
	"github.com/OCharnyshevich/worldmap/pkg/world/region"
)

func main() {
	var (
		src   = flag.String("src", "", "source of a published map directory, e.g. git::https://host/repo.git//maps/world or https://host/map.tar.gz")
		root  = flag.String("o", storage.Namespace, "local map root")
		name  = flag.String("name", "", "directory name under the map root (default: last element of src)")
		force = flag.Bool("force", false, "replace an existing map directory")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *src, *root, *name, *force, log); err != nil {
		log.Error("fetch map", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, src, root, name string, force bool, log *slog.Logger) error {
	if src == "" {
		return fmt.Errorf("source required")
	}
	if name == "" {
		name = filepath.Base(src)
	}
	dst := filepath.Join(root, storage.SanitizeName(name))

	if _, err := os.Stat(dst); err == nil {
		if !force {
			return fmt.Errorf("map directory %s exists; use -force to replace it", dst)
		}
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("remove %s: %w", dst, err)
		}
	}

	log.Info("downloading map", "src", src, "dst", dst)

	// Copy local directories instead of symlinking them.
	getters := maps.Clone(get.Getters)
	getters["file"] = &get.FileGetter{Copy: true}

	client := &get.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Mode:    get.ClientModeDir,
		Getters: getters,
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("download %s: %w", src, err)
	}

	store, err := storage.New(dst, log)
	if err != nil {
		return err
	}
	regions, err := store.Regions()
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		log.Warn("downloaded directory holds no region files", "dst", dst)
	}
	for _, rp := range regions {
		rf, err := region.Load(dst, rp.X, rp.Z, log)
		if err != nil {
			return fmt.Errorf("validate region (%d,%d): %w", rp.X, rp.Z, err)
		}
		if rf != nil {
			rf.Close()
		}
	}
	md, err := store.LoadMetadata()
	if err != nil {
		return err
	}
	if md == nil {
		md = &storage.Metadata{Name: name}
		if err := store.SaveMetadata(md); err != nil {
			return err
		}
	}

	log.Info("done downloading map", "dst", dst, "regions", len(regions), "name", md.Name)
	return nil
}
