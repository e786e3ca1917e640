package builtins

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"howett.net/plist"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// ReadPlist reads a property list file in any supported format.
func ReadPlist(path string) (interface{}, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", errors.ErrPathNotAccessible, path)
		}
		if os.IsPermission(err) {
			return nil, "", fmt.Errorf("%w: %s", errors.ErrPermissionDenied, path)
		}
		return nil, "", err
	}

	var result interface{}
	format, err := plist.Unmarshal(data, &result)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", errors.ErrInvalidArgument, path, err)
	}
	return result, plist.FormatNames[format], nil
}

// LookupKey walks a decoded plist along a dotted key path. Numeric segments
// index into arrays.
func LookupKey(root interface{}, key string) (interface{}, error) {
	if key == "" {
		return root, nil
	}
	current := root
	for _, part := range strings.Split(key, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("%w: key %q not found", errors.ErrInvalidArgument, key)
			}
			current = next
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("%w: index %q out of range in %q", errors.ErrInvalidArgument, part, key)
			}
			current = node[i]
		default:
			return nil, fmt.Errorf("%w: %q does not lead to a dictionary or array", errors.ErrInvalidArgument, key)
		}
	}
	return current, nil
}

func formatPlistValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func newPlistCommand(inv *Invocation) *cobra.Command {
	var file, key string

	cmd := &cobra.Command{
		Use:   "plist",
		Short: "Read a value from a property list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, format, err := ReadPlist(inv.path(file))
			if err != nil {
				return err
			}
			value, err := LookupKey(root, key)
			if err != nil {
				return err
			}
			text, err := formatPlistValue(value)
			if err != nil {
				return err
			}

			inv.setOutput("value", text)
			inv.setOutput("format", format)
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "property list file")
	cmd.Flags().StringVar(&key, "key", "", "dotted key path, e.g. CFBundleShortVersionString")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
