// Package archive moves a consumed playlist file out of the watch
// directory once every track in it has been uploaded.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// Move relocates the playlist at playlistPath into archiveDir, keeping its
// base name.
func Move(playlistPath, archiveDir string) error {
	dest := filepath.Join(archiveDir, filepath.Base(playlistPath))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("archive: create archive dir: %w", err)
	}
	if err := os.Rename(playlistPath, dest); err != nil {
		return fmt.Errorf("archive: move %s to %s: %w", playlistPath, dest, err)
	}
	return nil
}
