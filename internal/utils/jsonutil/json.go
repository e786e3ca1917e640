// Package jsonutil reads, edits and writes JSON documents addressed with
// dotted key paths. Edits are made in place on the raw document, so key
// order and formatting outside the edited value survive.
package jsonutil

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
)

// ReadJSON reads the JSON document at path.
func ReadJSON(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrPathNotAccessible, err)
	}
	return Decode(data)
}

// Decode checks that data holds exactly one JSON value. Objects and arrays
// are both accepted at the top level.
func Decode(data []byte) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", errors.ErrInvalidArgument)
	}
	return data, nil
}

// WriteJSON writes data to path. An unchanged file is left untouched.
func WriteJSON(path string, data []byte, perm os.FileMode) error {
	if _, _, err := fsutil.WriteFileIfChanged(path, data, perm); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
	}
	return nil
}

// NewDocument returns the document written when --set targets a missing file.
func NewDocument(path string, value string) ([]byte, error) {
	data, err := SetValue(nil, path, value)
	if err != nil {
		return nil, err
	}
	return pretty.Pretty(data), nil
}

// GetValue retrieves a value using a dot-notation path. Numeric segments
// index into arrays, so "items.0.name" reads the first item's name.
func GetValue(data []byte, path string) (gjson.Result, bool) {
	if path == "" {
		return gjson.Result{}, false
	}
	res := gjson.GetBytes(data, path)
	return res, res.Exists()
}

// SetValue stores value at path, creating intermediate objects as needed.
// Text that is valid JSON ("3", "true", `{"a":1}`) is stored with its type,
// anything else as a string.
func SetValue(data []byte, path string, value string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty key path", errors.ErrInvalidArgument)
	}
	var out []byte
	var err error
	if gjson.Valid(value) {
		out, err = sjson.SetRawBytes(data, path, []byte(value))
	} else {
		out, err = sjson.SetBytes(data, path, value)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: key %q: %v", errors.ErrInvalidArgument, path, err)
	}
	return out, nil
}

// DeleteValue removes the value at path and reports whether it existed.
func DeleteValue(data []byte, path string) ([]byte, bool, error) {
	if _, ok := GetValue(data, path); !ok {
		return data, false, nil
	}
	out, err := sjson.DeleteBytes(data, path)
	if err != nil {
		return nil, false, fmt.Errorf("%w: key %q: %v", errors.ErrInvalidArgument, path, err)
	}
	return out, true, nil
}

// FormatValue renders a value for a step output: strings as-is, everything
// else as compact JSON.
func FormatValue(res gjson.Result) string {
	if res.Type == gjson.String {
		return res.String()
	}
	return string(pretty.Ugly([]byte(res.Raw)))
}
