package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore writes artifacts under a base directory and serves URLs off a
// configured public base, for single-node deployments where a fronting web
// server exposes the directory.
type FSStore struct {
	baseDir string
	baseURL string
}

// NewFSStore creates the base directory if needed.
func NewFSStore(baseDir, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FSStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Put writes the artifact and returns its public URL. Keys may contain
// slashes; anything escaping the base directory is rejected.
func (s *FSStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	path := filepath.Join(s.baseDir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return s.baseURL + "/" + filepath.ToSlash(clean), nil
}
