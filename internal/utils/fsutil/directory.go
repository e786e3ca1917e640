// fsutil/directory.go
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// DirExists checks if a directory exists
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// CreateDir creates a directory if it doesn't exist
func CreateDir(path string, perm os.FileMode) error {
	mu := GetPathMutex(path)
	mu.Lock()
	defer mu.Unlock()

	// Check again under lock
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return nil
	}
	return os.MkdirAll(path, perm)
}

// CreateDirIfNotExists creates a directory with standard permissions if it doesn't exist
func CreateDirIfNotExists(path string) error {
	return CreateDir(path, 0755)
}

// FindNonDirAncestor walks up from dir and returns the first existing path
// component that is not a directory. It returns "" when every existing
// ancestor is a directory, meaning MkdirAll(dir) can succeed.
func FindNonDirAncestor(dir string) (string, error) {
	p := filepath.Clean(dir)
	for {
		info, err := os.Stat(p)
		switch {
		case err == nil:
			if !info.IsDir() {
				return p, nil
			}
			return "", nil
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
			// keep walking up until something exists
		default:
			return "", err
		}

		parent := filepath.Dir(p)
		if parent == p {
			return "", nil
		}
		p = parent
	}
}
