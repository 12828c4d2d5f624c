// Package safefileio provides secure file I/O with protection against
// symlink attacks and TOCTOU races. A setuid-root launcher must never follow
// an attacker-planted symlink when it opens log or configuration files, so
// every open here uses O_NOFOLLOW and re-validates the opened descriptor.
package safefileio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

var (
	// ErrInvalidFilePath indicates that the specified file path is invalid.
	ErrInvalidFilePath = errors.New("invalid file path")

	// ErrIsSymlink indicates that the specified path is a symbolic link, which is not allowed.
	ErrIsSymlink = errors.New("path is a symbolic link")

	// ErrFileTooLarge indicates that the file is too large.
	ErrFileTooLarge = errors.New("file too large")
)

// MaxFileSize is the maximum allowed file size for SafeReadFile (16 MB).
// Launcher configuration files are tiny; anything bigger is hostile input.
const MaxFileSize = 16 * 1024 * 1024

// SafeOpenFile opens a file with O_NOFOLLOW appended to the given flags and
// verifies, after the fact, that no path component is a symlink and that the
// result is a regular file. The post-open verification makes the check
// meaningful under concurrent modification of the path.
func SafeOpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	// #nosec G304 - absPath is cleaned above and opened with O_NOFOLLOW
	file, err := os.OpenFile(absPath, flag|syscall.O_NOFOLLOW, perm)
	if err != nil {
		if isNoFollowError(err) {
			return nil, fmt.Errorf("%w: %s", ErrIsSymlink, absPath)
		}
		return nil, err
	}

	if err := validateOpenedFile(file, absPath); err != nil {
		file.Close()
		return nil, err
	}

	return file, nil
}

// SafeReadFile reads a file opened through SafeOpenFile, enforcing
// MaxFileSize to bound memory use.
func SafeReadFile(path string) ([]byte, error) {
	file, err := SafeOpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	content, err := io.ReadAll(io.LimitReader(file, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(content)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return content, nil
}

// validateOpenedFile checks the already-opened descriptor and the directory
// components leading to it.
func validateOpenedFile(file *os.File, absPath string) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file: %s", ErrInvalidFilePath, absPath)
	}
	return verifyPathComponents(absPath)
}

// verifyPathComponents walks the directory chain above absPath and rejects
// any symlink component. Lstat never follows links, so this is safe to run
// after the open.
func verifyPathComponents(absPath string) error {
	current := filepath.Dir(absPath)
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return nil // reached the root
		}

		fi, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to stat %s: %w", current, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrIsSymlink, current)
		}

		current = parent
	}
}

// isNoFollowError checks if the error indicates we tried to open a symlink.
func isNoFollowError(err error) bool {
	var e *os.PathError
	if !errors.As(err, &e) {
		return false
	}
	return errors.Is(e.Err, syscall.ELOOP) || errors.Is(e.Err, syscall.EMLINK)
}
