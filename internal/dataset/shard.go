package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadShard reads a tar archive holding "<key>.png" (or .jpg/.jpeg) images
// next to "<key>.cls" files with the decimal label. Entries are returned in
// the order their pair completes inside the archive; ImagePath carries the
// key.
func ReadShard(ctx context.Context, path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open shard")
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pending := make(map[string]*partial)
	var entries []Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read tar %s", path)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, filepath.Ext(name))

		part := pending[key]
		if part == nil {
			part = &partial{}
			pending[key] = part
		}
		switch ext {
		case ".jpg", ".jpeg", ".png":
			if part.image, err = io.ReadAll(tr); err != nil {
				return nil, errors.Wrapf(err, "read image %s", name)
			}
		case ".cls":
			payload, err := io.ReadAll(tr)
			if err != nil {
				return nil, errors.Wrapf(err, "read label %s", name)
			}
			label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				return nil, errors.Wrapf(err, "parse label %s", name)
			}
			part.label = &label
		default:
			if part.image == nil && part.label == nil {
				delete(pending, key)
			}
			continue
		}

		if part.ready() {
			entries = append(entries, Entry{ImagePath: key, Label: *part.label, Image: part.image})
			delete(pending, key)
		}
	}
	if len(pending) > 0 {
		return nil, errors.Errorf("shard %s: %d samples incomplete", path, len(pending))
	}
	return entries, nil
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}
