package variables

import (
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Resolve substitutes {{category.field}} tokens in a template using the
// store. Unresolved paths stay as the literal token so partially
// configured flows remain inspectable. Resolution is a single pass:
// substituted values are never re-scanned for further tokens.
func Resolve(template string, store *Store) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	data := store.Data()
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])
		if len(path) == 0 {
			return token
		}
		value, err := jsonpath.JsonPathLookup(data, "$."+path)
		if err != nil || value == nil {
			return token
		}
		return FormatValue(value)
	})
}

// ResolveConfig resolves every string field of a node config, walking
// nested maps and lists the way raw node configs nest.
func ResolveConfig(config map[string]any, store *Store) map[string]any {
	output := make(map[string]any, len(config))
	for k, v := range config {
		output[k] = resolveValue(v, store)
	}
	return output
}

func resolveValue(v any, store *Store) any {
	switch val := v.(type) {
	case string:
		return Resolve(val, store)
	case map[string]any:
		return ResolveConfig(val, store)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, resolveValue(item, store))
		}
		return out
	default:
		return v
	}
}
