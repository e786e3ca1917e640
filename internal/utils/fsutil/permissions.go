// fsutil/permissions.go
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// SetPermissions sets the permissions of a file or directory
func SetPermissions(path string, mode os.FileMode) error {
	mu := GetPathMutex(path)
	mu.Lock()
	defer mu.Unlock()

	err := os.Chmod(path, mode)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %s", errors.ErrPermissionDenied, path)
		}
		return fmt.Errorf("%w: %s", errors.ErrPathNotAccessible, path)
	}
	return nil
}

// IsWritable checks if a file or directory is writable by the current user
func IsWritable(path string) bool {
	mu := GetPathMutex(path)
	mu.Lock()
	defer mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	// For directories, check if we can create a temporary file
	if info.IsDir() {
		testFile := filepath.Join(path, ".permission_test_"+strconv.Itoa(os.Getpid()))
		file, err := os.OpenFile(testFile, os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return false
		}
		file.Close()
		os.Remove(testFile)
		return true
	}

	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
