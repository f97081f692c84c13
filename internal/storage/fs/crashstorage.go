// Package fs implements crash storage on the local filesystem, mirroring the
// object-store layout under a root directory. Intended for development and
// tests.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/stackwatch/crash-collector/internal/collector"
	storagelayout "github.com/stackwatch/crash-collector/internal/storage"
)

// Config captures the parameters for the filesystem crash storage.
type Config struct {
	// RootDir is the directory the object tree is written under.
	RootDir string
}

// CrashStorage writes crash objects to the local filesystem.
type CrashStorage struct {
	rootDir string
}

// New creates a filesystem-backed crash storage, creating the root directory
// if needed.
func New(cfg Config) (*CrashStorage, error) {
	if strings.TrimSpace(cfg.RootDir) == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	info, err := os.Stat(cfg.RootDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.RootDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create root directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path is not a directory")
	}
	return &CrashStorage{rootDir: cfg.RootDir}, nil
}

// Save writes the full object set for the crash.
func (s *CrashStorage) Save(_ context.Context, report *collector.CrashReport) error {
	objects, err := storagelayout.Objects(report)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := s.writeFile(obj.Path, obj.Body); err != nil {
			return fmt.Errorf("save %s: %w", obj.Path, err)
		}
	}
	return nil
}

// Verify proves the root directory is writable without leaving files behind.
func (s *CrashStorage) Verify(_ context.Context) error {
	path := storagelayout.VerifyPath(uuid.New().String())
	if err := s.writeFile(path, []byte("test")); err != nil {
		return fmt.Errorf("fs verify write: %w", err)
	}
	if err := os.Remove(filepath.Join(s.rootDir, filepath.FromSlash(path))); err != nil {
		return fmt.Errorf("fs verify cleanup: %w", err)
	}
	return nil
}

func (s *CrashStorage) writeFile(path string, data []byte) error {
	full := filepath.Join(s.rootDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o640)
}
