package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Argument helpers. The assistant sends JSON, so numbers arrive as
// float64 and some models quote booleans and integers.

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", invalidArgument("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgument("argument %q must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", invalidArgument("argument %q must not be empty", key)
	}
	return s, nil
}

// stringArg returns the string value of key, or def when absent.
func stringArg(args map[string]any, key, def string) (string, error) {
	p, err := optString(args, key)
	if err != nil {
		return "", err
	}
	if p == nil {
		return def, nil
	}
	return *p, nil
}

// optString returns nil when key is absent or null.
func optString(args map[string]any, key string) (*string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, invalidArgument("argument %q must be a string", key)
	}
	return &s, nil
}

// optBool returns nil when key is absent or null.
func optBool(args map[string]any, key string) (*bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch b := v.(type) {
	case bool:
		return &b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil, invalidArgument("argument %q must be a boolean", key)
		}
		return &parsed, nil
	default:
		return nil, invalidArgument("argument %q must be a boolean", key)
	}
}

func boolArg(args map[string]any, key string, def bool) (bool, error) {
	p, err := optBool(args, key)
	if err != nil {
		return false, err
	}
	if p == nil {
		return def, nil
	}
	return *p, nil
}

// intArg returns a positive integer argument, or def when absent.
func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}

	var n int
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return 0, invalidArgument("argument %q must be an integer", key)
		}
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, invalidArgument("argument %q must be an integer", key)
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, invalidArgument("argument %q must be an integer", key)
		}
		n = i
	default:
		return 0, invalidArgument("argument %q must be an integer", key)
	}

	if n <= 0 {
		return 0, invalidArgument("argument %q must be positive", key)
	}
	return n, nil
}

// deref turns an optional value into an any for payload echoes, so
// absent fields render as JSON null.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
