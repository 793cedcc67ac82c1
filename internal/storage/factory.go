package storage

import "fmt"

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// NewStore builds an uninitialized store; callers still call Init.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("storage: %s backend requires a path", kind)
		}
		return NewSQLiteStore(path), nil
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", kind)
	}
}
