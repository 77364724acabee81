package recorder

import (
	"os"
	"strings"
)

// mergeEnv applies K=V overrides on top of base and expands ${VAR}
// references in override values against the merged map.
func mergeEnv(base, overrides []string) []string {
	if base == nil {
		base = os.Environ()
	}
	m := make(map[string]string, len(base)+len(overrides))
	order := make([]string, 0, len(base)+len(overrides))
	set := func(kv string) (string, bool) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return "", false
		}
		if _, seen := m[k]; !seen {
			order = append(order, k)
		}
		m[k] = v
		return k, true
	}
	for _, kv := range base {
		set(kv)
	}
	var keys []string
	for _, kv := range overrides {
		if k, ok := set(kv); ok {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		m[k] = os.Expand(m[k], func(name string) string { return m[name] })
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out
}
