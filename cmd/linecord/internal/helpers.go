package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tinyland-inc/linecord/pkg/config"
	"github.com/tinyland-inc/linecord/pkg/store"
)

const Logo = "🔁"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".linecord", "config.json")
}

// LoadConfig loads path, or the default config path when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = GetConfigPath()
	}
	return config.LoadConfig(path)
}

// OpenStore opens the state backend selected by cfg.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.State.Backend {
	case "redis":
		st, err := store.OpenRedis(ctx, cfg.State.RedisURL, cfg.State.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("error opening redis state: %w", err)
		}
		return st, nil
	case "", "file":
		st, err := store.OpenFile(cfg.StatePath())
		if err != nil {
			return nil, fmt.Errorf("error opening state file: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
