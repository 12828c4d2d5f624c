// Package common provides shared interfaces and utilities used across the
// launcher packages.
//
//nolint:revive // var-naming: package name "common" is intentional for shared internal utilities
package common

import (
	"errors"
	"io/fs"
	"os"
)

// Error definitions for static error handling
var (
	ErrEmptyPath = errors.New("path cannot be empty")
)

// FileSystem defines the interface for the file system operations the
// launcher needs. It exists so tests can substitute a mock for code that
// would otherwise touch well-known host paths.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents
	ReadFile(path string) ([]byte, error)

	// Lstat returns file information without following symlinks
	Lstat(path string) (fs.FileInfo, error)

	// FileExists checks if a file or directory exists
	FileExists(path string) (bool, error)
}

// DefaultFileSystem implements FileSystem using standard os package functions
type DefaultFileSystem struct{}

// NewDefaultFileSystem creates a new DefaultFileSystem
func NewDefaultFileSystem() *DefaultFileSystem {
	return &DefaultFileSystem{}
}

// ReadFile reads the named file and returns its contents
func (fs *DefaultFileSystem) ReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	// #nosec G304 - callers validate paths before reading
	return os.ReadFile(path)
}

// Lstat returns file information without following symlinks
func (fs *DefaultFileSystem) Lstat(path string) (fs.FileInfo, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	return os.Lstat(path)
}

// FileExists checks if a file or directory exists
func (fs *DefaultFileSystem) FileExists(path string) (bool, error) {
	if path == "" {
		return false, ErrEmptyPath
	}
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
