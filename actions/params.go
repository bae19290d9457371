package actions

import (
	"encoding/json"
	"strconv"
)

// Parameters arrive as decoded JSON; the dispatcher passes them through
// untouched, so coercion happens here.

func intArg(params map[string]any, name string, def int) int {
	v, ok := params[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

func stringArg(params map[string]any, name, def string) string {
	if s, ok := params[name].(string); ok && s != "" {
		return s
	}
	return def
}

func boolArg(params map[string]any, name string, def bool) bool {
	switch v := params[name].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
