package dataset

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Images are named "<label>-<id>.<ext>", e.g. "7-3.png".
var imageRegexp = regexp.MustCompile(`^([0-9]+)-[^/]+\.(?i:png|jpe?g)$`)

// DiscoverImages walks root and returns an entry for every labelled image
// file beneath it, sorted by path so corpus order is stable.
func DiscoverImages(root string) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := imageRegexp.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		label, err := strconv.Atoi(m[1])
		if err != nil {
			return errors.Wrapf(err, "label of %s", path)
		}
		entries = append(entries, Entry{ImagePath: path, Label: label})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discover images")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ImagePath < entries[j].ImagePath })
	return entries, nil
}
