package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// NormalizeOutput tidies model output so near-misses can still validate:
// - strips a ```json fence
// - drops unknown top-level keys and null values
// - trims strings, dropping ones left empty
// - coerces "20%" / "3" style strings into numbers for numeric fields
//
// It never invents required fields; output missing them still fails validation.
func NormalizeOutput(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(stripFence(raw), &m); err != nil {
		return nil, nil, fmt.Errorf("%w: decode: %w", ErrInvalidOutput, err)
	}

	var dropped []string
	for k := range m {
		if k != "parsedSyllabus" && k != "dashboardLayout" {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}
	clean(m, "", &dropped)

	if ps, ok := m["parsedSyllabus"].(map[string]any); ok {
		if ci, ok := ps["courseInfo"].(map[string]any); ok {
			coerceNumber(ci, "credits", true, &dropped)
		}
		if items, ok := ps["assignments"].([]any); ok {
			for _, it := range items {
				if a, ok := it.(map[string]any); ok {
					coerceNumber(a, "weight", false, &dropped)
					if t, ok := a["type"].(string); ok {
						a["type"] = strings.ToLower(t)
					}
				}
			}
		}
		if gs, ok := ps["gradingScale"].(map[string]any); ok {
			for k := range gs {
				coerceNumber(gs, k, false, &dropped)
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("normalize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("analysis.output.normalized", "dropped", dropped)
	}
	return out, dropped, nil
}

func stripFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = bytes.TrimPrefix(s, []byte("```"))
	s = bytes.TrimPrefix(s, []byte("json"))
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}

// clean removes nulls and empty strings and trims the rest, recursively.
func clean(v any, path string, dropped *[]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := join(path, k)
			switch c := child.(type) {
			case nil:
				delete(t, k)
				*dropped = append(*dropped, p+"(null)")
			case string:
				if s := strings.TrimSpace(c); s == "" {
					delete(t, k)
					*dropped = append(*dropped, p+"(empty)")
				} else {
					t[k] = s
				}
			default:
				clean(c, p, dropped)
			}
		}
	case []any:
		for i, child := range t {
			if s, ok := child.(string); ok {
				t[i] = strings.TrimSpace(s)
				continue
			}
			clean(child, path+"[]", dropped)
		}
	}
}

func coerceNumber(m map[string]any, key string, integer bool, dropped *[]string) {
	s, ok := m[key].(string)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil {
		delete(m, key)
		*dropped = append(*dropped, key+"(type)")
		return
	}
	if integer {
		m[key] = int64(f)
		return
	}
	m[key] = f
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
