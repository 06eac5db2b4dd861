package node

import (
	"time"
)

// FlagSet is a serializable set of flags. It carries the flags of a command
// from the CLI to the daemon in JSON, which decodes every number as a float.
//
// - implements cli.Flags
type FlagSet map[string]interface{}

// String implements cli.Flags. It returns the string of the flag, or an empty
// string.
func (fset FlagSet) String(name string) string {
	v, _ := fset[name].(string)
	return v
}

// StringSlice implements cli.Flags. It returns the list of strings of the flag,
// or nil.
func (fset FlagSet) StringSlice(name string) []string {
	switch v := fset[name].(type) {
	case []string:
		return v
	case []interface{}:
		values := make([]string, 0, len(v))
		for _, elem := range v {
			str, ok := elem.(string)
			if ok {
				values = append(values, str)
			}
		}

		return values
	default:
		return nil
	}
}

// Duration implements cli.Flags. It returns the duration of the flag, or zero.
func (fset FlagSet) Duration(name string) time.Duration {
	switch v := fset[name].(type) {
	case time.Duration:
		return v
	case float64:
		return time.Duration(v)
	default:
		return 0
	}
}

// Path implements cli.Flags.
func (fset FlagSet) Path(name string) string {
	return fset.String(name)
}

// Int implements cli.Flags. It returns the integer of the flag, or zero.
func (fset FlagSet) Int(name string) int {
	switch v := fset[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Bool implements cli.Flags. It returns the boolean of the flag, or false.
func (fset FlagSet) Bool(name string) bool {
	v, _ := fset[name].(bool)
	return v
}
