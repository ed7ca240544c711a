// Package autotag is the tagging pipeline: file discovery, the parallel
// scheduler across platform matchers, and tag write-back.
package autotag

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/franz/onetagger/internal/tag"
	"github.com/franz/onetagger/internal/util"
)

var playlistExtensions = map[string]bool{
	".m3u":  true,
	".m3u8": true,
	".pls":  true,
}

// FileList collects the audio files under root. A playlist path resolves
// to its parent folder. With subfolders the walk recurses, otherwise
// only direct children are considered.
func FileList(root string, subfolders bool) ([]string, error) {
	// Playlists resolve to the folder that contains them
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		if playlistExtensions[strings.ToLower(filepath.Ext(root))] {
			root = filepath.Dir(root)
		} else {
			// A single audio file is a one-entry list
			if _, err := tag.FormatOf(root); err == nil {
				abs, err := filepath.Abs(root)
				if err != nil {
					return nil, err
				}
				return []string{abs}, nil
			}
		}
	}

	var files []string
	if subfolders {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				util.WarnLog("Skipping %s: %v", path, err)
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if _, err := tag.FormatOf(path); err == nil {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(root, entry.Name())
			if _, err := tag.FormatOf(path); err == nil {
				files = append(files, path)
			}
		}
	}

	for i, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			files[i] = abs
		}
	}
	sort.Strings(files)
	return files, nil
}
