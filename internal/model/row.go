// Package model defines the row shapes persisted by the journal and their
// invariants. It has no knowledge of SQL dialect, transport, or transaction
// boundaries — those live in internal/storage and internal/writepipeline.
package model

import "github.com/google/uuid"

// EventRow is one persisted event. It is the in-memory mirror of a
// journal_row record.
//
// Ordering is assigned by the database on insert and is zero until the row
// has been written; callers never set it.
type EventRow struct {
	Ordering       int64  // database-assigned, zero until inserted
	PersistenceID  string // non-empty; partitions the log
	SequenceNumber int64  // >= 1; strictly increasing per PersistenceID
	Timestamp      int64  // caller-supplied, may be 0
	Deleted        bool
	Message        []byte // opaque serialized payload, preserved byte-for-byte
	Manifest       string
	EventManifest  *string
	Identifier     *int64
	Tags           string    // CSV layout only; empty otherwise
	TagArray       []string  // tag_table layout only; not persisted on this row
	WriteUUID      uuid.UUID // correlates rows from the same atomic write group
}

// HasTags reports whether this row carries one or more logical tags,
// regardless of which layout stores them.
func (r EventRow) HasTags() bool {
	if len(r.TagArray) > 0 {
		return true
	}
	return r.Tags != ""
}

// ToDeserializedRow projects an EventRow down to the fields a Serializer
// needs to rebuild the events it produced.
func (r EventRow) ToDeserializedRow() DeserializedRow {
	return DeserializedRow{
		Ordering:      r.Ordering,
		PersistenceID: r.PersistenceID,
		SequenceNr:    r.SequenceNumber,
		Timestamp:     r.Timestamp,
		Message:       r.Message,
		Manifest:      r.Manifest,
		EventManifest: r.EventManifest,
		Identifier:    r.Identifier,
	}
}

// TagRow is one journal_tag_row record. Only used in the tag-table layout.
type TagRow struct {
	OrderingID     int64 // foreign key to EventRow.Ordering
	TagValue       string
	PersistenceID  string
	SequenceNumber int64
	WriteUUID      uuid.UUID
}

// MetadataRow is one journal_metadata record. Only used in compatibility
// delete mode; records the historical high-water mark for a persistence id
// so HighestSequenceNr survives hard-delete of the underlying event rows.
type MetadataRow struct {
	PersistenceID  string
	SequenceNumber int64
}
