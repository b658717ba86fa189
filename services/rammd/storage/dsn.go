package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MemoryPath selects a process-local receipts database, used with the memory
// state backend.
const MemoryPath = ":memory:"

const (
	filePragmas   = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	memoryPragmas = "mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
)

// FileDSN turns the configured receipts path into a SQLite DSN. Relative
// paths resolve against the working directory; MemoryPath maps to a shared
// in-memory database that lives as long as a connection stays open.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	if trimmed == MemoryPath {
		return "file:rammd-receipts?" + memoryPragmas, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve receipts path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, filePragmas), nil
}
