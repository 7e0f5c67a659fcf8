// Package web holds the status dashboard served at /dashboard.
package web

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

//go:embed all:dist
var distFS embed.FS

// ErrNoIndex is returned when a dashboard source has no index.html.
var ErrNoIndex = errors.New("dashboard has no index.html")

// Assets returns the dashboard filesystem, rooted so that files are opened
// as "index.html" rather than "dist/index.html". A non-empty dir replaces
// the embedded copy, which lets the page be edited without a rebuild.
func Assets(dir string) (fs.FS, error) {
	var assets fs.FS
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("dashboard dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("dashboard dir %s is not a directory", dir)
		}
		assets = os.DirFS(dir)
	} else {
		sub, err := fs.Sub(distFS, "dist")
		if err != nil {
			return nil, err
		}
		assets = sub
	}

	if _, err := fs.Stat(assets, "index.html"); err != nil {
		return nil, ErrNoIndex
	}
	return assets, nil
}
