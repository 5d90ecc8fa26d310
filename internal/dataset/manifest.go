package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Entry pairs one image with its class label. Image, when set, holds the
// encoded image bytes and takes precedence over ImagePath.
type Entry struct {
	ImagePath string `json:"imagePath"`
	Label     int    `json:"trainLabel"`
	Image     []byte `json:"-"`
}

// LoadManifest reads a JSON array of {"imagePath", "trainLabel"} objects.
// Relative image paths are resolved against baseDir when it is not empty.
func LoadManifest(path, baseDir string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", path)
	}
	for i, e := range entries {
		if e.ImagePath == "" {
			return nil, errors.Errorf("manifest %s: entry %d has no imagePath", path, i)
		}
		if baseDir != "" && !filepath.IsAbs(e.ImagePath) {
			entries[i].ImagePath = filepath.Join(baseDir, e.ImagePath)
		}
	}
	return entries, nil
}
