package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar(\.zst)?$`)

// DiscoverShards returns paths to shard files (plain or zstd-compressed TAR)
// beneath root, sorted.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverByKind scans the root of every split independently. Empty roots
// are skipped.
func DiscoverByKind(roots map[Kind]string) (map[Kind][]string, error) {
	result := make(map[Kind][]string, len(roots))
	for kind, root := range roots {
		if root == "" {
			continue
		}
		shards, err := DiscoverShards(root)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		result[kind] = shards
	}
	return result, nil
}
