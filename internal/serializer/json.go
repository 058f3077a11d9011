// Package serializer provides the reference Serializer implementation. It
// mirrors the teacher's convention of storing event payloads as JSON
// (internal/model.AgentEvent.Payload was a map[string]any marshaled by the
// storage layer) generalized to an opaque Serializer boundary: the payload
// here is any caller-supplied value, round-tripped through encoding/json.
package serializer

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/arcflow-db/eventjournal/internal/model"
)

// JSON serializes event payloads with encoding/json. Manifest is set to the
// Go type name of the payload so Deserialize can decode into a matching
// value when a type registry is supplied, and otherwise decodes into
// map[string]any.
type JSON struct {
	// Registry maps a manifest string to a zero value whose type
	// json.Unmarshal should target. Optional; nil falls back to
	// map[string]any for every row.
	Registry map[string]func() any
}

// NewJSON constructs a JSON serializer with an empty type registry.
func NewJSON() *JSON {
	return &JSON{Registry: make(map[string]func() any)}
}

// Register associates a manifest name with a constructor for its Go type.
func (s *JSON) Register(manifest string, zero func() any) {
	s.Registry[manifest] = zero
}

func manifestFor(payload any) string {
	t := reflect.TypeOf(payload)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}

func (s *JSON) serializeOne(repr model.PersistentRepr) (model.SerializedRow, error) {
	msg, err := json.Marshal(repr.Payload)
	if err != nil {
		return model.SerializedRow{}, fmt.Errorf("serializer: marshal payload: %w", err)
	}
	manifest := repr.Manifest
	if manifest == "" {
		manifest = manifestFor(repr.Payload)
	}
	return model.SerializedRow{
		PersistenceID: repr.PersistenceID,
		SequenceNr:    repr.SequenceNr,
		Timestamp:     repr.Timestamp,
		Deleted:       repr.Deleted,
		Message:       msg,
		Manifest:      manifest,
		Tags:          repr.Tags,
	}, nil
}

// SerializeAtomicWrites implements model.Serializer.
func (s *JSON) SerializeAtomicWrites(_ context.Context, writes []model.AtomicWrite, timestamp int64) []model.AtomicWriteResult {
	results := make([]model.AtomicWriteResult, len(writes))
	for i, w := range writes {
		rows := make([]model.SerializedRow, 0, len(w.Payload))
		var writeErr error
		for _, repr := range w.Payload {
			repr.Timestamp = timestamp
			row, err := s.serializeOne(repr)
			if err != nil {
				writeErr = err
				break
			}
			rows = append(rows, row)
		}
		if writeErr != nil {
			results[i] = model.AtomicWriteResult{Err: writeErr}
			continue
		}
		results[i] = model.AtomicWriteResult{Rows: rows}
	}
	return results
}

// SerializeSingle implements model.Serializer.
func (s *JSON) SerializeSingle(_ context.Context, repr model.PersistentRepr) (model.SerializedRow, error) {
	return s.serializeOne(repr)
}

// Deserialize implements model.Serializer. It always returns exactly one
// event (JSON round-trip has no notion of fan-out); adapters that need
// fan-out compose a different Serializer (see internal/serializer/taggingtest
// for the reference example used by this repo's own tests).
func (s *JSON) Deserialize(_ context.Context, row model.DeserializedRow) ([]any, error) {
	ctor, ok := s.Registry[row.Manifest]
	var target any
	if ok {
		target = ctor()
	} else {
		target = &map[string]any{}
	}
	if err := json.Unmarshal(row.Message, target); err != nil {
		return nil, fmt.Errorf("serializer: unmarshal payload: %w", err)
	}
	if m, ok := target.(*map[string]any); ok {
		return []any{*m}, nil
	}
	return []any{target}, nil
}
