package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// store persists the registry document atomically: write to a sibling temp
// file, fsync, then rename over the destination. Adapted from the teacher's
// write-temp-then-rename PersistentState pattern.
type store struct {
	path string
}

func newStore(path string) *store {
	return &store{path: path}
}

func (s *store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}
	if doc.Models == nil {
		doc.Models = make(map[string]DiscoveredModel)
	}
	return &doc, nil
}

func (s *store) save(doc *document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}
