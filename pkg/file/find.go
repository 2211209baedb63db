package file

import (
	"os"
	"path/filepath"
	"time"
)

// FindModifiedBefore lists regular files under dir whose mtime is before cutoff.
// A missing dir yields no files.
func FindModifiedBefore(dir string, cutoff time.Time) ([]string, error) {
	var stale []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if info.Mode().IsRegular() && info.ModTime().Before(cutoff) {
			stale = append(stale, path)
		}
		return nil
	})

	return stale, err
}
