package model

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// StructCodec is a [Codec] for typed records declared as plain structs.
// Field names follow `mapstructure` tags, falling back to the Go field name.
// T must be a value type (not a pointer) implementing [Record].
type StructCodec[T Record] struct{}

// Encode flattens the record into its field map.
func (StructCodec[T]) Encode(rec T) (Fields, error) {
	var out map[string]any
	if err := mapstructure.Decode(rec, &out); err != nil {
		return nil, fmt.Errorf("encoding record %q: %w", rec.RecordID(), err)
	}
	return Fields(out), nil
}

// Decode rebuilds a record from its field map. Unknown fields are rejected
// so a drifted remote schema surfaces as an error instead of silent loss —
// a lossy decode would corrupt the read-modify-write merge.
func (StructCodec[T]) Decode(fields Fields) (T, error) {
	var rec T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &rec,
		ErrorUnused: true,
	})
	if err != nil {
		return rec, fmt.Errorf("building decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(fields)); err != nil {
		return rec, fmt.Errorf("decoding record: %w", err)
	}
	if rec.RecordID() == "" {
		return rec, fmt.Errorf("decoding record: missing or empty id")
	}
	return rec, nil
}

// MapRecord is a schemaless record: its body is the field map itself, with
// the id held in the "id" field. Used by the CLI, where record shapes are
// not known at compile time.
type MapRecord Fields

// RecordID returns the value of the "id" field, or "" if absent.
func (r MapRecord) RecordID() string {
	id, _ := r["id"].(string)
	return id
}

// MapCodec is the identity [Codec] for [MapRecord].
type MapCodec struct{}

func (MapCodec) Encode(rec MapRecord) (Fields, error) {
	if rec.RecordID() == "" {
		return nil, fmt.Errorf("encoding record: missing or empty id")
	}
	return Fields(rec).Clone(), nil
}

func (MapCodec) Decode(fields Fields) (MapRecord, error) {
	rec := MapRecord(fields.Clone())
	if rec.RecordID() == "" {
		return nil, fmt.Errorf("decoding record: missing or empty id")
	}
	return rec, nil
}
