package registry

import "fmt"

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the registry backend by name. location is a directory for the
// file backend and a DSN for sqlite; memory ignores it.
func Open(backend, location string) (Registry, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendFile, "":
		return NewFile(location)
	case BackendSQLite:
		return NewSQLite(location)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", backend)
	}
}
