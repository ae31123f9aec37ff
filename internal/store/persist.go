package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
)

// The persisted layout is a JSON array of records in insertion order, so a
// load restores both the keyed map and the walk order. Writes go to a .tmp
// sibling first and are renamed into place, so a crashed save never leaves
// a torn file behind.

// Save writes the store to path using enc to render each record.
func Save[T any](path string, s *Store[T], enc func(T) ([]byte, error)) error {
	entries := make([]json.RawMessage, 0, s.Len())
	for _, rec := range s.All() {
		data, err := enc(rec)
		if err != nil {
			return err
		}
		entries = append(entries, data)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}
	return WriteAtomic(path, data)
}

// WriteAtomic writes data to path via a .tmp sibling and a rename, creating
// the parent directory when needed.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// Load reads a store from path using dec to parse each record and id to
// key it. A missing file yields an empty store (first run); a file that
// fails to decode is an error the caller must treat as fatal rather than
// serving partial state.
func Load[T any](path string, dec func([]byte) (T, error), id func(T) string) (*Store[T], error) {
	s := New[T]()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperrors.Newf(apperrors.ErrSchema, 500, "parsing %s: %v", path, err)
	}
	for i, raw := range entries {
		rec, err := dec(raw)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", path, i, err)
		}
		key := id(rec)
		if s.Has(key) {
			return nil, apperrors.Newf(apperrors.ErrSchema, 500, "%s entry %d: duplicate id %s", path, i, key)
		}
		if _, _, err := s.Put(key, rec); err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", path, i, err)
		}
	}
	return s, nil
}
