//go:build dev

// Package webembed carries the popup UI served at / by collectord.
package webembed

import (
	"io/fs"
	"os"
)

// EnvWebDir points dev builds at a popup directory on disk, so edits show up
// on reload without rebuilding.
const EnvWebDir = "ATTN_WEB_DIR"

// GetFS returns the directory named by ATTN_WEB_DIR, or nil when it is unset,
// in which case only the API is served.
func GetFS() (fs.FS, error) {
	dir := os.Getenv(EnvWebDir)
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	return os.DirFS(dir), nil
}
