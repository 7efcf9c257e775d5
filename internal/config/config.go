// Package config reads and writes the basalt store manifest, the versioned
// JSON document that marks a directory as a basalt store and carries its
// identity.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harsh9t/basalt/internal/paths"
)

// CurrentVersion is the manifest format version this build writes.
const CurrentVersion = 1

// ErrExists is returned by Create when the directory already has a manifest.
var ErrExists = errors.New("store already initialized")

// Manifest identifies a basalt store directory.
type Manifest struct {
	Version     int       `json:"version"`
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Create writes a fresh manifest into dir. It refuses to overwrite an
// existing one.
func Create(dir, description string) (*Manifest, error) {
	m := &Manifest{
		Version:     CurrentVersion,
		ID:          ulid.Make().String(),
		CreatedAt:   time.Now().UTC(),
		Description: description,
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(paths.Manifest(dir), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

// Load reads and validates the manifest in dir.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(paths.Manifest(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("not a basalt store (missing %s)", paths.ManifestName)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version < 1 || m.Version > CurrentVersion {
		return nil, fmt.Errorf("unsupported manifest version %d (this build supports up to %d)",
			m.Version, CurrentVersion)
	}
	if m.ID == "" {
		return nil, errors.New("manifest has no store id")
	}
	return &m, nil
}

// Exists reports whether dir carries a manifest.
func Exists(dir string) bool {
	_, err := os.Stat(paths.Manifest(dir))
	return err == nil
}
