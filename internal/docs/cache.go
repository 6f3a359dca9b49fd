package docs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// RustdocCache keeps zstd-compressed rustdoc JSON on disk, one file per
// resolved crate version. "latest" is never written.
type RustdocCache struct {
	Dir string
}

func (c RustdocCache) path(name, version string) (string, error) {
	if name == "" || version == "" || version == "latest" {
		return "", fmt.Errorf("rustdoc cache: need a concrete crate version, got %q@%q", name, version)
	}
	if strings.ContainsAny(name+version, `/\`) || strings.Contains(name+version, "..") {
		return "", fmt.Errorf("rustdoc cache: invalid crate %q@%q", name, version)
	}
	return filepath.Join(c.Dir, name+"_"+version+".json.zst"), nil
}

// Save compresses data and stores it for name@version.
func (c RustdocCache) Save(name, version string, data []byte) error {
	dst, err := c.path(name, version)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("creating rustdoc cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.Dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		tmp.Close()
		return fmt.Errorf("writing compressed data: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	return os.Rename(tmp.Name(), dst)
}

// Load decodes the cached rustdoc JSON for name@version. A missing entry
// wraps os.ErrNotExist.
func (c RustdocCache) Load(name, version string) (*RustdocCrate, error) {
	p, err := c.path(name, version)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	var crate RustdocCrate
	if err := json.NewDecoder(r).Decode(&crate); err != nil {
		return nil, fmt.Errorf("decoding cached rustdoc JSON: %w", err)
	}
	return &crate, nil
}

// Clear removes every cached crate.
func (c RustdocCache) Clear() error {
	err := os.RemoveAll(c.Dir)
	if err != nil {
		return fmt.Errorf("clearing rustdoc cache: %w", err)
	}
	return nil
}
