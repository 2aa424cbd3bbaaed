package tools

// Argument maps come out of encoding/json, so numbers arrive as
// float64 and arrays as []any. These helpers give handlers typed
// access without repeating the assertions everywhere.

// StringArg returns the named string argument, or "" when absent or
// not a string.
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// IntArg returns the named integer argument. Absent, non-numeric, and
// values below min fall back to def.
func IntArg(args map[string]any, key string, def, min int) int {
	switch n := args[key].(type) {
	case float64:
		if int(n) >= min {
			return int(n)
		}
	case int:
		if n >= min {
			return n
		}
	}
	return def
}

// BoolArg returns the named boolean argument, or false when absent.
func BoolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// StringsArg returns the named string-array argument. Non-string
// elements are dropped.
func StringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
