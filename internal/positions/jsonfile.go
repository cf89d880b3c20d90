package positions

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
)

// JSONFile persists positions as a JSON array on disk.
type JSONFile struct {
	path string
	mu   sync.Mutex
}

// NewJSONFile creates a file persister at path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Path returns the backing file path.
func (f *JSONFile) Path() string {
	return f.path
}

// LoadPositions reads the file. A missing or empty file is an empty set.
func (f *JSONFile) LoadPositions(ctx context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewDataError("positions", f.path, "read position file", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var out []models.Position
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.NewDataError("positions", f.path, "parse position file: "+err.Error(), apperrors.ErrCorruptStore)
	}
	return out, nil
}

// SavePositions rewrites the file atomically via a temp file and rename.
func (f *JSONFile) SavePositions(ctx context.Context, positions []models.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if positions == nil {
		positions = []models.Position{}
	}
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".positions-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
