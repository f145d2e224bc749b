// Package model defines the record types shared between the mirror adapter
// and the store backends: the [Record] identity contract, the flat [Fields]
// body every record serializes to, and codecs for moving between the two.
package model

// Fields is the flat key/value body of a record as it is stored remotely.
// Values are JSON-compatible: scalars, arrays, or nested objects.
type Fields map[string]any

// Clone returns a shallow copy of the field map.
func (f Fields) Clone() Fields {
	cp := make(Fields, len(f))
	for k, v := range f {
		cp[k] = v
	}
	return cp
}

// Record is any application type that can live in a mirrored list.
// The id must be unique within the list and must never change.
type Record interface {
	RecordID() string
}

// Codec converts records to and from their flat field representation.
// The round trip must be lossless: Decode(Encode(r)) yields a record equal
// to r. The field-change merge path depends on this.
type Codec[T Record] interface {
	Encode(rec T) (Fields, error)
	Decode(fields Fields) (T, error)
}

// MergeField applies a single-field change event to an encoded record body
// and returns the merged copy. A nil value deletes the field — remote field
// removal arrives as a change to nil, not as a separate event kind.
func MergeField(fields Fields, field string, value any) Fields {
	merged := fields.Clone()
	if value == nil {
		delete(merged, field)
		return merged
	}
	merged[field] = value
	return merged
}
