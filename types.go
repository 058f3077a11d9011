// Package eventjournal is a durable, relational event-sourcing journal: an
// append-only log of per-persistence-id event streams with a global
// ordering cursor, grounded on the Akka Persistence JDBC plugin family.
// This file re-exports the contract types internal/model defines, so
// callers never import internal packages directly.
package eventjournal

import "github.com/arcflow-db/eventjournal/internal/model"

// PersistentRepr is one event as a caller presents it for writing.
type PersistentRepr = model.PersistentRepr

// AtomicWrite groups events that must become visible together or not at all.
type AtomicWrite = model.AtomicWrite

// Envelope is the tuple emitted by the tag queries and AllEvents.
type Envelope = model.Envelope

// TagMode selects the physical representation of tags.
type TagMode = model.TagMode

// ProviderName selects the SQL dialect and connection strategy.
type ProviderName = model.ProviderName

// Serializer maps in-memory events to row payload bytes and back.
type Serializer = model.Serializer

const (
	TagModeCSV      = model.TagModeCSV
	TagModeTagTable = model.TagModeTagTable
)

const (
	ProviderPostgres      = model.ProviderPostgres
	ProviderSQLiteMS      = model.ProviderSQLiteMS
	ProviderSQLiteClassic = model.ProviderSQLiteClassic
)
