package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// The config file may be YAML or JSON. YAML input is converted to JSON bytes
// first so one strict decoder (DisallowUnknownFields) covers both formats:
// a misspelled broadcast tunable is a load error, never a silent fallback to
// defaults.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	out, err := json.Marshal(jsonSafe(doc))
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// jsonSafe rewrites YAML map keys to strings so the document survives
// encoding/json (YAML allows non-string keys, JSON does not).
func jsonSafe(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = jsonSafe(val)
		}
		return m
	case map[string]any:
		for k, val := range x {
			x[k] = jsonSafe(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = jsonSafe(x[i])
		}
		return x
	default:
		return v
	}
}
