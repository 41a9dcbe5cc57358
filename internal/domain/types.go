package domain

import (
	"bytes"
	"encoding/json"
)

// Metadata is an unstructured payload container for log entries and templates.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// Nullable distinguishes an absent field from an explicit null in a partial
// update. Set reports whether the field was carried at all; Valid reports
// whether it carried a non-null value.
type Nullable[T any] struct {
	Value T
	Set   bool
	Valid bool
}

func Value[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Set: true, Valid: true}
}

func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// Apply merges n into dst when the field was carried.
func (n Nullable[T]) Apply(dst **T) {
	if !n.Set {
		return
	}
	if !n.Valid {
		*dst = nil
		return
	}
	v := n.Value
	*dst = &v
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		n.Value = zero
		n.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
