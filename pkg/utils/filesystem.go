package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDataDir ensures the .nestor data directory exists under the
// given base path. If basePath is empty or ".", it resolves to
// ./.nestor in the current directory.
//
// The archive database and ingest index state live here by default.
func EnsureDataDir(basePath string) (string, error) {
	var dataDir string
	if basePath == "" || basePath == "." {
		dataDir = ".nestor"
	} else {
		dataDir = filepath.Join(basePath, ".nestor")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory at '%s': %w", dataDir, err)
	}

	return dataDir, nil
}
