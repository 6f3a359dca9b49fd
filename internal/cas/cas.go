package cas

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/klauspost/compress/zstd"
)

// Dir returns the CAS directory path.
func Dir() string {
	return config.CASDir()
}

// path returns the sharded file path for a hash: cas/<first2>/<rest>.frag.zst
func path(hash string) (string, error) {
	if len(hash) != sha256.Size*2 {
		return "", fmt.Errorf("invalid CAS hash %q", hash)
	}
	return filepath.Join(Dir(), hash[:2], hash[2:]+".frag.zst"), nil
}

// Hash returns the key content would be stored under.
func Hash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// Write stores raw fragment bytes in the CAS, returning their SHA-256 hash.
// If the content already exists, this is a no-op.
func Write(content []byte) (string, error) {
	hash := Hash(content)

	p, err := path(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("creating CAS directory: %w", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return "", fmt.Errorf("compressing CAS content: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing zstd writer: %w", err)
	}

	// readers must never see a partially written blob
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing CAS file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming CAS file: %w", err)
	}

	return hash, nil
}

// Read retrieves content from the CAS by hash.
func Read(hash string) ([]byte, error) {
	p, err := path(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("reading CAS file %s: %w", hash, err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing CAS file %s: %w", hash, err)
	}
	return data, nil
}

// Clear removes every stored blob.
func Clear() error {
	if err := os.RemoveAll(Dir()); err != nil {
		return fmt.Errorf("removing CAS directory: %w", err)
	}
	return nil
}
