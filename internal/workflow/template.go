package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Template is a scalar configuration value that may contain ${...}
// expressions. It keeps the string form of whatever scalar YAML held
// (so `skip: true` and `skip: ${...}` decode into the same type) and is
// resolved right before use.
type Template string

// UnmarshalYAML accepts any YAML scalar.
func (t *Template) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*t = ""
	case string:
		*t = Template(v)
	case bool:
		*t = Template(strconv.FormatBool(v))
	case int, int64, uint64, float64:
		*t = Template(fmt.Sprint(v))
	default:
		return fmt.Errorf("expected a scalar value, got %T", raw)
	}
	return nil
}

// MarshalYAML writes the template back as a plain string.
func (t Template) MarshalYAML() (interface{}, error) {
	return string(t), nil
}

func (t Template) String() string { return string(t) }

// IsTemplated reports whether the value contains an expression that needs resolving.
func (t Template) IsTemplated() bool {
	return strings.Contains(strings.ReplaceAll(string(t), "$${", ""), "${")
}
