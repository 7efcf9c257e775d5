// Package paths defines the on-disk layout of a basalt store directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ManifestName identifies a directory as a basalt store.
	ManifestName = "basalt.json"

	// LockName is the zero-length marker file the record lock attaches
	// to. Its content is irrelevant; its inode is what matters.
	LockName = "basalt.lock"

	// CatalogName is the SQLite catalog inside the store.
	CatalogName = "catalog.db"
)

// Resolve returns the absolute, cleaned form of dir.
func Resolve(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve store path: %w", err)
	}
	return abs, nil
}

// Manifest returns the manifest path for a store directory.
func Manifest(dir string) string {
	return filepath.Join(dir, ManifestName)
}

// LockFile returns the lock file path for a store directory.
func LockFile(dir string) string {
	return filepath.Join(dir, LockName)
}

// Catalog returns the catalog database path for a store directory.
func Catalog(dir string) string {
	return filepath.Join(dir, CatalogName)
}

// Ensure creates the store directory if it does not exist.
func Ensure(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
