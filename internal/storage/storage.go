// Package storage keeps the uploaded documents and their searchable
// renditions on the local filesystem, serving them back under the /files
// URL prefix. Paths are validated against the base directory so uploaded
// file names cannot escape it.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// URLPrefix is where the HTTP layer serves the stored files.
const URLPrefix = "/files"

// FileStore persists uploaded documents and searchable PDF renditions.
type FileStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewFileStore creates the store and its base directory.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &FileStore{baseDir: baseDir, logger: logger}, nil
}

// BaseDir returns the directory the /files prefix maps to.
func (s *FileStore) BaseDir() string { return s.baseDir }

// SaveUpload stores an uploaded document under a collision-free name and
// returns the URL it is served at.
func (s *FileStore) SaveUpload(fileName string, data []byte) (string, error) {
	return s.save(uniqueName(fileName), data)
}

// SaveSearchablePDF stores the text-searchable rendition of a document.
func (s *FileStore) SaveSearchablePDF(fileName string, data []byte) (string, error) {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	return s.save(uniqueName(base+"-searchable.pdf"), data)
}

func (s *FileStore) save(name string, data []byte) (string, error) {
	fullPath := filepath.Join(s.baseDir, name)
	if err := s.validatePath(fullPath); err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		s.logger.Error("failed to write file",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("file saved",
		zap.String("path", fullPath),
		zap.Int("size", len(data)))
	return URLPrefix + "/" + name, nil
}

// validatePath rejects any resolved path outside the base directory.
func (s *FileStore) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("path escapes upload directory: %s", fullPath)
	}
	return nil
}

// uniqueName prefixes the sanitized original name with a short random id
// so repeated uploads of the same file never overwrite each other.
func uniqueName(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	return uuid.NewString()[:8] + "-" + base
}
