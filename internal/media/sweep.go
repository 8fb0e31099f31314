package media

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SweepStale removes files under root whose modification time is older
// than maxAge, catching leftovers from crashed runs that the per-run
// working-area reset never got to. It returns the number of files removed.
// A missing root is fine.
func SweepStale(root string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rerr := os.Remove(path); rerr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, err
	}
	return removed, nil
}
