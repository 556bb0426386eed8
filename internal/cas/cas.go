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

// Hash returns the key a fragment is stored under.
func Hash(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

// path returns the sharded file path for a hash: cas/<first2>/<rest>.html.zst
func path(hash string) string {
	return filepath.Join(Dir(), hash[:2], hash[2:]+".html.zst")
}

// Write stores a fragment in the CAS, returning its SHA-256 hash.
// If the content already exists, this is a no-op.
func Write(content string) (string, error) {
	hash := Hash(content)

	p := path(hash)
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
	if _, err := w.Write([]byte(content)); err != nil {
		w.Close()
		return "", fmt.Errorf("compressing CAS content: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing zstd writer: %w", err)
	}

	// Write to a temp file and rename so concurrent readers never see a partial entry.
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
func Read(hash string) (string, error) {
	if len(hash) < 3 {
		return "", fmt.Errorf("invalid CAS hash %q", hash)
	}
	f, err := os.Open(path(hash))
	if err != nil {
		return "", fmt.Errorf("reading CAS file %s: %w", hash, err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decompressing CAS file %s: %w", hash, err)
	}
	return string(data), nil
}

// ReadAll resolves hashes in order. It fails on the first missing entry.
func ReadAll(hashes []string) ([]string, error) {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		content, err := Read(h)
		if err != nil {
			return nil, err
		}
		out[i] = content
	}
	return out, nil
}
