package model

import "context"

// TagMode selects the physical representation of tags. Fixed at bootstrap
// per spec I4; switching requires an offline migration.
type TagMode string

const (
	TagModeCSV      TagMode = "csv"
	TagModeTagTable TagMode = "tag_table"
)

// ProviderName selects the SQL dialect and connection strategy.
type ProviderName string

const (
	ProviderPostgres      ProviderName = "postgres"
	ProviderSQLiteMS      ProviderName = "sqlite-ms"
	ProviderSQLiteClassic ProviderName = "sqlite-classic"
)

// PersistentRepr is one event as the caller presents it for writing: an
// opaque payload plus the identity and metadata needed to place it in the
// log. A Serializer turns a slice of these sharing one AtomicWrite into
// EventRows sharing one WriterUUID.
type PersistentRepr struct {
	PersistenceID  string
	SequenceNr     int64
	Payload        any
	Manifest       string
	Timestamp      int64
	Deleted        bool
	Tags           []string
}

// AtomicWrite is a group of events persisted in one transaction. All events
// in the group become visible together or not at all.
type AtomicWrite struct {
	Payload []PersistentRepr
}

// AtomicWriteResult is the outcome of serializing one AtomicWrite: either
// the rows to insert (sharing a fresh WriterUUID) or the error that made
// serialization fail. A failure here does not affect sibling writes in the
// same WriteMessages call.
type AtomicWriteResult struct {
	Rows []SerializedRow
	Err  error
}

// SerializedRow is what a Serializer produces for one PersistentRepr: the
// bytes to store plus the hints the same Serializer needs to rebuild the
// event on read-back. The write pipeline treats Message as opaque and must
// preserve it byte-for-byte.
type SerializedRow struct {
	PersistenceID  string
	SequenceNr     int64
	Timestamp      int64
	Deleted        bool
	Message        []byte
	Manifest       string
	EventManifest  *string
	Identifier     *int64
	Tags           []string
}

// DeserializedRow is the input to Serializer.Deserialize: a row read back
// from storage, with its database-assigned ordering.
type DeserializedRow struct {
	Ordering      int64
	PersistenceID string
	SequenceNr    int64
	Timestamp     int64
	Message       []byte
	Manifest      string
	EventManifest *string
	Identifier    *int64
}

// Envelope is the tuple emitted by the tag queries and the all-events
// scan. Replay emits replay.Completion values instead.
type Envelope struct {
	Ordering       int64
	PersistenceID  string
	SequenceNumber int64
	Event          any
	Timestamp      int64
}

// Serializer maps in-memory events to row payload bytes and back. An
// implementer must preserve the Message field byte-for-byte.
//
// Deserialize may expand one row into zero, one, or many events — mirroring
// Akka Persistence's EventSequence.Empty/Single/Create(a, b) — so tag and
// all-events queries can reflect read-side event adapters that split or
// drop records. Replay uses the same method; most rows deserialize to
// exactly one event there.
type Serializer interface {
	// SerializeAtomicWrites turns each AtomicWrite into its own result,
	// positionally aligned with writes. One write's serialization failure
	// does not affect the others.
	SerializeAtomicWrites(ctx context.Context, writes []AtomicWrite, timestamp int64) []AtomicWriteResult

	// SerializeSingle serializes one event for Update, which overwrites the
	// Message of an existing row in place and does not re-tag it.
	SerializeSingle(ctx context.Context, repr PersistentRepr) (SerializedRow, error)

	// Deserialize maps one stored row back to zero or more domain events.
	Deserialize(ctx context.Context, row DeserializedRow) ([]any, error)
}
