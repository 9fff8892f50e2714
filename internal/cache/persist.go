package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/law-makers/newsfetch/internal/logging"
)

const (
	itemsFile  = "items.json"
	statusFile = "status.json"
)

// loadJSON reads path into v. Missing files are not an error; unreadable or
// corrupt ones are logged and ignored.
func loadJSON(path string, v any) {
	logger := logging.WithComponent("cache")

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to read cache file")
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Ignoring corrupt cache file")
	}
}

// writeJSON rewrites path atomically via a temp file in the same directory
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}

func (s *Store) loadLocked() {
	items := make(map[string]*Entry)
	status := make(map[string]*Status)

	loadJSON(filepath.Join(s.path, itemsFile), &items)
	loadJSON(filepath.Join(s.path, statusFile), &status)

	for key, e := range items {
		if e == nil {
			delete(items, key)
		}
	}
	for key, st := range status {
		if st == nil {
			delete(status, key)
			continue
		}
		if st.ProcessedStages == nil {
			st.ProcessedStages = make(map[string]StageMark)
		}
	}

	s.items = items
	s.status = status
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(s.path, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := writeJSON(filepath.Join(s.path, itemsFile), s.items); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.path, statusFile), s.status)
}
