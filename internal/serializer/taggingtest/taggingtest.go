// Package taggingtest is a reference event adapter used only by this
// module's own tests. It mirrors the source's example color/fruit tagger:
// a plain-string payload is tagged with whichever color or fruit words it
// contains, and two words in the payload trigger adapter fan-out so tests
// can exercise the 0/1/2+ envelope cases described in spec.md §4.6 and the
// S1/S2 scenarios in §8.
package taggingtest

import (
	"context"
	"strings"

	"github.com/arcflow-db/eventjournal/internal/model"
)

var vocabulary = []string{"green", "black", "red", "blue", "apple", "banana", "leaf", "car"}

// Tags returns the vocabulary words present in text as whole words, so
// "blue" does not match "bluebird".
func Tags(text string) []string {
	var tags []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		field = strings.Trim(field, ".,!?")
		for _, word := range vocabulary {
			if field == word {
				tags = append(tags, word)
				break
			}
		}
	}
	return tags
}

// Serializer stores the payload string as opaque bytes and computes tags
// from its text. Deserialize reproduces the source's documented adapter
// quirks: a payload containing "invalid" yields zero envelopes, a payload
// containing "duplicated" yields two (suffixed "-1"/"-2"), everything else
// yields exactly one.
type Serializer struct{}

func (Serializer) serializeOne(repr model.PersistentRepr) (model.SerializedRow, error) {
	text, _ := repr.Payload.(string)
	tags := repr.Tags
	if tags == nil {
		tags = Tags(text)
	}
	return model.SerializedRow{
		PersistenceID: repr.PersistenceID,
		SequenceNr:    repr.SequenceNr,
		Timestamp:     repr.Timestamp,
		Deleted:       repr.Deleted,
		Message:       []byte(text),
		Manifest:      "text",
		Tags:          tags,
	}, nil
}

// SerializeAtomicWrites implements model.Serializer.
func (s Serializer) SerializeAtomicWrites(_ context.Context, writes []model.AtomicWrite, timestamp int64) []model.AtomicWriteResult {
	results := make([]model.AtomicWriteResult, len(writes))
	for i, w := range writes {
		rows := make([]model.SerializedRow, 0, len(w.Payload))
		for _, repr := range w.Payload {
			repr.Timestamp = timestamp
			row, err := s.serializeOne(repr)
			if err != nil {
				results[i] = model.AtomicWriteResult{Err: err}
				rows = nil
				break
			}
			rows = append(rows, row)
		}
		if rows != nil {
			results[i] = model.AtomicWriteResult{Rows: rows}
		}
	}
	return results
}

// SerializeSingle implements model.Serializer.
func (s Serializer) SerializeSingle(_ context.Context, repr model.PersistentRepr) (model.SerializedRow, error) {
	return s.serializeOne(repr)
}

// Deserialize implements model.Serializer, including the fan-out quirks
// documented above.
func (Serializer) Deserialize(_ context.Context, row model.DeserializedRow) ([]any, error) {
	text := string(row.Message)
	switch {
	case strings.Contains(text, "invalid"):
		return nil, nil
	case strings.Contains(text, "duplicated"):
		return []any{text + "-1", text + "-2"}, nil
	default:
		return []any{text}, nil
	}
}
