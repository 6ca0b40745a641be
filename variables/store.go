package variables

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oliveagle/jsonpath"
)

// Fixed variable categories. Only "captured" may grow during an editing
// session; the rest are seeded at trigger time.
const (
	CATEGORY_CONTACT  = "contact"
	CATEGORY_MESSAGE  = "message"
	CATEGORY_SYSTEM   = "system"
	CATEGORY_DEAL     = "deal"
	CATEGORY_PIPELINE = "pipeline"
	CATEGORY_CAPTURED = "captured"
)

// CODE_OUTPUT_KEY is the flattened namespace code node outputs are copied
// into, used by the "Output:" token listing shown to operators.
const CODE_OUTPUT_KEY = "code_execution_output"

func Categories() []string {
	return []string{
		CATEGORY_CONTACT,
		CATEGORY_MESSAGE,
		CATEGORY_SYSTEM,
		CATEGORY_DEAL,
		CATEGORY_PIPELINE,
		CATEGORY_CAPTURED,
	}
}

// Store is the per-execution variable namespace, addressed by dotted paths
// like contact.phone. It is owned by exactly one ExecutionContext and is
// not safe for concurrent use.
type Store struct {
	data map[string]any
}

func NewStore(initial map[string]any) *Store {
	data := make(map[string]any)
	for k, v := range initial {
		data[k] = v
	}
	for _, cat := range Categories() {
		if _, ok := data[cat]; !ok {
			data[cat] = map[string]any{}
		}
	}
	return &Store{data: data}
}

func (s *Store) Data() map[string]any {
	return s.data
}

// Get resolves a dotted path against the store.
func (s *Store) Get(path string) (any, bool) {
	value, err := jsonpath.JsonPathLookup(s.data, "$."+path)
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set writes a value at a dotted path, creating intermediate maps as
// needed. An intermediate segment holding a non-map value is an error.
func (s *Store) Set(path string, value any) error {
	parts := strings.Split(path, ".")
	current := s.data
	for i, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok {
			created := map[string]any{}
			current[part] = created
			current = created
			continue
		}
		nested, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path segment %q is not an object", strings.Join(parts[:i+1], "."))
		}
		current = nested
	}
	current[parts[len(parts)-1]] = value
	return nil
}

func isCategory(key string) bool {
	for _, cat := range Categories() {
		if cat == key {
			return true
		}
	}
	return false
}

// MergeOutput merges a node's output under its designated namespace. Node
// outputs never overwrite the fixed categories; an output key colliding
// with a category is shifted to <key>_output.
func (s *Store) MergeOutput(key string, output map[string]any) {
	if len(output) == 0 {
		return
	}
	if isCategory(key) {
		key = key + "_output"
	}
	existing, ok := s.data[key].(map[string]any)
	if !ok {
		existing = map[string]any{}
		s.data[key] = existing
	}
	for k, v := range output {
		existing[k] = v
	}
}

// RefreshCaptured lazily merges previously seen flow outputs into the
// captured category. captured is the only category allowed to grow during
// a session.
func (s *Store) RefreshCaptured(outputs map[string]any) {
	captured, ok := s.data[CATEGORY_CAPTURED].(map[string]any)
	if !ok {
		captured = map[string]any{}
		s.data[CATEGORY_CAPTURED] = captured
	}
	for k, v := range outputs {
		captured[k] = v
	}
}

// Snapshot deep copies the store via a JSON round trip, so sandbox scripts
// can mutate their copy without touching the execution's namespaces.
func (s *Store) Snapshot() map[string]any {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return map[string]any{}
	}
	var copied map[string]any
	if err := json.Unmarshal(raw, &copied); err != nil {
		return map[string]any{}
	}
	return copied
}

// FormatValue renders a resolved variable for substitution into a string
// field. Structured values render as JSON.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	case nil:
		return ""
	default:
		out := fmt.Sprintf("%v", val)
		return strings.TrimSpace(out)
	}
}
