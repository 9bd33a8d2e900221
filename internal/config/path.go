package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir picks the session root when none is configured. Each
// session log lives in its own subdirectory, so the root belongs to the
// current user rather than a system-wide location. Without a home directory
// sessions go under ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "oplog")
	}
	for _, c := range []struct{ marker, dir string }{
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Oplog")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Oplog")},
		{filepath.Join(home, ".local", "share"), filepath.Join(home, ".local", "share", "oplog")},
	} {
		if isDir(c.marker) {
			return c.dir
		}
	}
	return filepath.Join(home, ".oplog")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
