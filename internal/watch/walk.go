package watch

import (
	"io/fs"
	"path/filepath"
)

// subdirectories walks root and returns every directory beneath it
// (root itself excluded), used to seed fsnotify.Watcher.Add calls for a
// recursive registration.
func subdirectories(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}
