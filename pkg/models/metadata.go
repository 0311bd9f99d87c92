package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is a free-form JSON object stored in a single column.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if out == nil {
		out = Metadata{}
	}
	*m = out
	return nil
}

// Merge copies every key of other into m, allocating m if needed.
func (m *Metadata) Merge(other Metadata) {
	if *m == nil {
		*m = Metadata{}
	}
	for k, v := range other {
		(*m)[k] = v
	}
}

// String returns the value stored under key when it is a string.
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Uint returns the value stored under key as an id. JSON numbers decode as float64.
func (m Metadata) Uint(key string) (uint, bool) {
	switch v := m[key].(type) {
	case float64:
		return uint(v), v >= 0
	case uint:
		return v, true
	case int:
		return uint(v), v >= 0
	}
	return 0, false
}
