package uuidmap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// FileStore keeps the map as a JSON object in <dir>/<instance>.json.
type FileStore struct {
	path string
}

// NewFileStore returns a store for instance under dir.
func NewFileStore(dir, instance string) *FileStore {
	return &FileStore{path: filepath.Join(dir, instance+".json")}
}

// Path returns the file the map is stored in.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the map file.
func (s *FileStore) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading uuid map: %w", err)
	}

	var uuids map[string]string
	if err := json.Unmarshal(data, &uuids); err != nil {
		return nil, fmt.Errorf("decoding uuid map %s: %w", s.path, err)
	}
	if uuids == nil {
		uuids = make(map[string]string)
	}
	if err := validate(uuids); err != nil {
		return nil, err
	}
	return uuids, nil
}

// Save writes the full map to a temporary file in the same directory and
// renames it over the previous file, so a crash never leaves a partial map.
func (s *FileStore) Save(_ context.Context, uuids map[string]string) error {
	if err := validate(uuids); err != nil {
		return err
	}

	data, err := json.Marshal(uuids)
	if err != nil {
		return fmt.Errorf("encoding uuid map: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating uuid map directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary uuid map: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // Gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Write error takes precedence
		return fmt.Errorf("writing uuid map: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // Sync error takes precedence
		return fmt.Errorf("syncing uuid map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing uuid map: %w", err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return fmt.Errorf("setting uuid map permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing uuid map: %w", err)
	}
	return nil
}
