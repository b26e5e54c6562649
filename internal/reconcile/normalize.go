package reconcile

import "strings"

// nullMarkers are the literal strings synthesis models emit to mean "no
// data". They are stripped during normalization so absence is always encoded
// as a missing field, never a placeholder value.
var nullMarkers = map[string]bool{
	"n/a":         true,
	"na":          true,
	"none":        true,
	"null":        true,
	"unknown":     true,
	"not found":   true,
	"no data":     true,
	"unavailable": true,
}

func isNullMarker(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return s == "" || nullMarkers[strings.ToLower(strings.TrimSpace(s))]
}

// normalize strips null markers recursively and backfills the defaults the
// schema expects for optional fields the model omitted.
func normalize(doc map[string]any) map[string]any {
	out, _ := stripNulls(doc).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}

	if subject, ok := out["subject"].(map[string]any); ok {
		if _, ok := subject["identity_confidence"]; !ok {
			subject["identity_confidence"] = "confirmed"
		}
	}

	if sections, ok := out["sections"].([]any); ok {
		for _, s := range sections {
			sec, ok := s.(map[string]any)
			if !ok {
				continue
			}
			subs, ok := sec["subsections"].([]any)
			if !ok {
				continue
			}
			for _, ss := range subs {
				sub, ok := ss.(map[string]any)
				if !ok {
					continue
				}
				if _, ok := sub["confidence"]; !ok {
					sub["confidence"] = "confirmed"
				}
			}
		}
	}

	return out
}

func stripNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isNullMarker(val) {
				continue
			}
			out[k] = stripNulls(val)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			if isNullMarker(val) {
				continue
			}
			out = append(out, stripNulls(val))
		}
		return out
	default:
		return v
	}
}
