// Package catalog persists the device catalog external to the running
// process. FileCatalog is a minimal concrete implementation: the whole
// catalog as a JSON array, written atomically via a temp-file-then-rename.
package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"

	"modbus-bridge/internal/model"
)

// FileCatalog is a JSON-file-backed device catalog.
type FileCatalog struct {
	path string
}

// NewFileCatalog creates a catalog backed by the file at path.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

// Load reads the catalog file. A missing file yields an empty catalog,
// not an error -- a fresh bridge has no devices configured yet.
func (c *FileCatalog) Load() ([]*model.Device, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var devices []*model.Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Save persists the full device catalog, replacing whatever was there.
// Writes to a temp file in the same directory and renames over the
// destination so a crash mid-write never leaves a truncated catalog.
func (c *FileCatalog) Save(devices []*model.Device) error {
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".catalog-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, c.path)
}
