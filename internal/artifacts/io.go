package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the set as indented JSON, creating parent directories as
// needed. The file is self-contained: a later Load can re-audit it without
// a browser.
func Save(s *Set, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}
	return nil
}

// Load reads a saved set. Result values come back as raw JSON; As decodes
// them on demand.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifacts: %w", err)
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse artifacts %s: %w", path, err)
	}
	return &s, nil
}
