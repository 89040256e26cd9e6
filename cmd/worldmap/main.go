package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/config"
	"github.com/OCharnyshevich/worldmap/internal/worldmap/storage"
)

const usage = `usage: worldmap <command> [flags]

commands:
  explore   walk a synthetic world and record it into a map directory
  inspect   print the region files of a map directory
  compact   rewrite region files without unused bytes
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var run func(ctx context.Context, args []string) error
	switch os.Args[1] {
	case "explore":
		run = explore
	case "inspect":
		run = inspect
	case "compact":
		run = compact
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[2:]); err != nil {
		slog.Error("worldmap "+os.Args[1], "error", err)
		os.Exit(1)
	}
}

// commonFlags binds the config fields shared by every command to fs.
func commonFlags(fs *flag.FlagSet, cfg *config.Config) *string {
	path := fs.String("config", storage.ConfigFile, "config file")
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "map directory")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	return path
}

// loadConfig parses args and merges the config file under the explicitly set flags.
func loadConfig(fs *flag.FlagSet, cfg *config.Config, path *string, args []string) (*slog.Logger, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fromFile, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	config.Merge(cfg, fromFile, explicit)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lvl, _ := cfg.Level()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log, nil
}
