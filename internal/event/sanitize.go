// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package event

// deniedKeys are map keys that enable prototype-pollution-style attacks
// when an event payload crosses into a script runtime. They are stripped
// silently rather than rejected.
var deniedKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Sanitize returns a copy of the event with denylisted keys removed from
// Payload and Metadata at every nesting depth. The input event is never
// mutated. Sanitization is a pure tree transform: applying it to an
// already-sanitized event yields an equal result.
//
// A nil event sanitizes to nil. A nil payload stays nil; that is not an
// error condition.
func Sanitize(e *Event) *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Payload = SanitizeValue(e.Payload)
	if e.Metadata != nil {
		md, _ := SanitizeValue(e.Metadata).(map[string]any)
		out.Metadata = md
	}
	return &out
}

// SanitizeValue recursively sanitizes a single payload value. Maps are
// copied with denylisted keys dropped, slices are copied element-wise
// preserving order and length, and scalars pass through unchanged.
func SanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if _, denied := deniedKeys[k]; denied {
				continue
			}
			out[k] = SanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = SanitizeValue(inner)
		}
		return out
	default:
		return v
	}
}
