package docs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Cache keeps zstd-compressed rustdoc JSON on disk, one file per crate@version.
type Cache struct {
	Dir string
}

func (c *Cache) path(name, version string) string {
	return filepath.Join(c.Dir, name+"_"+version+".json.zst")
}

// Save compresses and saves rustdoc JSON bytes to disk.
func (c *Cache) Save(data []byte, name, version string) error {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("creating json cache dir: %w", err)
	}

	f, err := os.Create(c.path(name, version))
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer f.Close()

	w, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing compressed data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	return nil
}

// Load returns the cached rustdoc JSON bytes for name@version.
func (c *Cache) Load(name, version string) ([]byte, error) {
	f, err := os.Open(c.path(name, version))
	if err != nil {
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing cached rustdoc JSON: %w", err)
	}
	return data, nil
}

// Has checks whether a cached rustdoc JSON file exists on disk.
func (c *Cache) Has(name, version string) bool {
	_, err := os.Stat(c.path(name, version))
	return err == nil
}
