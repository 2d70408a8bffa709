package routes

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound    = errors.New("route not found")
	ErrInvalidName = errors.New("invalid characters in route name")
	ErrMissingData = errors.New("missing route name or coords")
)

const nameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

// Store keeps named routes as opaque JSON blobs, one <name>.json file each.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !strings.ContainsRune(nameAlphabet, r) {
			return false
		}
	}
	return true
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if strings.HasSuffix(n, ".json") {
			names = append(names, strings.TrimSuffix(n, ".json"))
		}
	}
	return names, nil
}

func (s *Store) Save(name string, coords json.RawMessage) error {
	if name == "" || len(coords) == 0 {
		return ErrMissingData
	}
	if !validName(name) {
		return ErrInvalidName
	}
	return os.WriteFile(s.path(name), coords, 0o644)
}

func (s *Store) Load(name string) (json.RawMessage, error) {
	if !validName(name) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Delete reports whether a route was actually removed.
func (s *Store) Delete(name string) (bool, error) {
	if !validName(name) {
		return false, nil
	}
	err := os.Remove(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
