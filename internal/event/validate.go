// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package event

// ValidationResult is the outcome of a structural check. Structural
// problems never surface as errors; callers inspect Valid explicitly.
type ValidationResult struct {
	Valid   bool
	Message string
}

func invalid(msg string) ValidationResult {
	return ValidationResult{Message: msg}
}

// Validation failure messages. These are part of the contract with plugin
// runtimes and must not be reworded.
const (
	msgTypeRequired    = "Event type is required"
	msgSourceNotString = "Event source must be a string"
	msgTimestampNotNum = "Event timestamp must be a number"
	msgMetadataNotMap  = "Event metadata must be an object"
)

// Validate checks the shape of a typed event.
func Validate(e *Event) ValidationResult {
	if e == nil || e.Type == "" {
		return invalid(msgTypeRequired)
	}
	return ValidationResult{Valid: true}
}

// ValidateRaw checks a loosely-typed event as it arrives from a plugin
// runtime, before it is converted into an Event. Field types are not
// trustworthy at that boundary, so each optional field is checked.
func ValidateRaw(raw map[string]any) ValidationResult {
	if raw == nil {
		return invalid(msgTypeRequired)
	}

	t, ok := raw["type"]
	if !ok {
		return invalid(msgTypeRequired)
	}
	ts, ok := t.(string)
	if !ok || ts == "" {
		return invalid(msgTypeRequired)
	}

	if src, ok := raw["source"]; ok && src != nil {
		if _, ok := src.(string); !ok {
			return invalid(msgSourceNotString)
		}
	}

	if ts, ok := raw["timestamp"]; ok && ts != nil {
		if !isNumber(ts) {
			return invalid(msgTimestampNotNum)
		}
	}

	if md, ok := raw["metadata"]; ok && md != nil {
		if _, ok := md.(map[string]any); !ok {
			return invalid(msgMetadataNotMap)
		}
	}

	return ValidationResult{Valid: true}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
