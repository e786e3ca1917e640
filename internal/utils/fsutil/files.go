package fsutil

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileExists checks if a regular file exists
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// WriteFileIfChanged writes data to path unless the file already holds exactly
// that content. It reports whether the file was written and whether a previous
// file was overwritten. The write goes through a temp file and rename so readers
// never observe a partially written file.
func WriteFileIfChanged(path string, data []byte, perm os.FileMode) (written, overwrote bool, err error) {
	mu := GetPathMutex(path)
	mu.Lock()
	defer mu.Unlock()

	existing, readErr := os.ReadFile(path)
	switch {
	case readErr == nil:
		if bytes.Equal(existing, data) {
			return false, false, nil
		}
		overwrote = true
	case errors.Is(readErr, fs.ErrNotExist):
	default:
		return false, false, readErr
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return false, false, err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return false, false, err
	}
	if err = tmp.Chmod(perm); err != nil {
		tmp.Close()
		return false, false, err
	}
	if err = tmp.Close(); err != nil {
		return false, false, err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return false, false, err
	}
	return true, overwrote, nil
}

// FileSize returns the size of the file at path
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
