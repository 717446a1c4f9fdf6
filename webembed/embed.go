//go:build !dev

// Package webembed carries the popup UI served at / by collectord.
package webembed

import (
	"embed"
	"io/fs"
)

//go:embed dist
var dist embed.FS

// GetFS returns the popup assets compiled into the binary.
func GetFS() (fs.FS, error) {
	return fs.Sub(dist, Root)
}
