package sanitize

import (
	"encoding/json"

	"github.com/microcosm-cc/bluemonday"
)

// Flow content arrives as arbitrary JSON from the editor. String leaves may
// carry rich-text fragments, so they pass through an HTML policy before
// anything is persisted; everything else keeps its shape.
var policy = bluemonday.UGCPolicy()

// Clean walks a decoded JSON value (string, float64, bool, nil, []any,
// map[string]any as produced by encoding/json) and neutralizes markup in
// every string leaf. Non-string values and container structure are returned
// unchanged. Clean(Clean(v)) == Clean(v).
func Clean(v any) any {
	switch val := v.(type) {
	case string:
		return policy.Sanitize(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clean(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Clean(item)
		}
		return out
	default:
		// numbers, booleans, null
		return v
	}
}

// CleanRaw sanitizes an encoded JSON payload. A nil payload stays nil.
func CleanRaw(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(Clean(v))
}
