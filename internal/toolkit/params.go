package toolkit

import (
	"encoding/json"
	"fmt"

	"github.com/forgehq/forge/internal/validate"
)

// Params wraps a decoded JSON arguments object with typed accessors that
// apply default fallback, required-key enforcement, numeric-range
// checks, and length caps. On failure an accessor returns a plain
// fmt.Errorf error naming the key; it is not a *ValidationError.
type Params struct {
	raw map[string]any
}

// ParseParams decodes a raw JSON arguments payload. An empty payload
// parses to an empty object, matching the agent loop's "empty ->
// {}" rule.
func ParseParams(data []byte) (Params, error) {
	if len(data) == 0 {
		return Params{raw: map[string]any{}}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Params{}, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return Params{raw: m}, nil
}

// Require fails if key is absent.
func (p Params) Require(key string) error {
	if _, ok := p.raw[key]; !ok {
		return fmt.Errorf("missing required parameter %q", key)
	}
	return nil
}

// String returns the string value at key, or def if absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p.raw[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}

// StringCapped returns the string at key, bounded by validate.StringLength.
func (p Params) StringCapped(key, def string, maxLen int) (string, error) {
	s, err := p.String(key, def)
	if err != nil {
		return "", err
	}
	if err := validate.StringLength(s, maxLen); err != nil {
		return "", fmt.Errorf("parameter %q: %w", key, err)
	}
	return s, nil
}

// Path returns the string at key validated as a workspace-relative path
// (see validate.Path), additionally bounded by MaxPathLength.
func (p Params) Path(key, def, root string) (string, error) {
	s, err := p.String(key, def)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", nil
	}
	resolved, err := validate.Path(root, s)
	if err != nil {
		return "", fmt.Errorf("parameter %q: %w", key, err)
	}
	return resolved, nil
}

// Int returns the integer at key, or def if absent. JSON numbers decode
// as float64; this truncates.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.raw[key]
	if !ok {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be a number", key)
	}
	return int(f), nil
}

// IntRange returns the integer at key, enforcing min <= value <= max.
func (p Params) IntRange(key string, def, min, max int) (int, error) {
	v, err := p.Int(key, def)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, fmt.Errorf("parameter %q must be within [%d, %d], got %d", key, min, max, v)
	}
	return v, nil
}

// Bool returns the boolean at key, or def if absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.raw[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q must be a boolean", key)
	}
	return b, nil
}

// Raw returns the underlying decoded map, for tools that need to
// inspect nested/structured parameters directly.
func (p Params) Raw() map[string]any {
	return p.raw
}
