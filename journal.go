package eventjournal

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"math"

	"github.com/arcflow-db/eventjournal/internal/allevents"
	"github.com/arcflow-db/eventjournal/internal/config"
	"github.com/arcflow-db/eventjournal/internal/deleter"
	"github.com/arcflow-db/eventjournal/internal/idgen"
	"github.com/arcflow-db/eventjournal/internal/model"
	"github.com/arcflow-db/eventjournal/internal/readcontrol"
	"github.com/arcflow-db/eventjournal/internal/replay"
	"github.com/arcflow-db/eventjournal/internal/serializer"
	"github.com/arcflow-db/eventjournal/internal/storage"
	"github.com/arcflow-db/eventjournal/internal/tagquery"
	"github.com/arcflow-db/eventjournal/internal/writepipeline"
	"github.com/arcflow-db/eventjournal/migrations"
)

// Journal is the public facade wiring every internal component (C1–C10)
// around one storage.Backend. Construct with Open, always Close when done.
type Journal struct {
	backend storage.Backend
	logger  *slog.Logger

	write     *writepipeline.Pipeline
	del       *deleter.Deleter
	replayer  *replay.Replayer
	tagEngine *tagquery.Engine
	allEngine *allevents.Engine
}

// Open loads configuration from the environment, applies opts, connects to
// the configured backend, and starts the write pipeline. Migrations are run
// automatically only when auto_initialize is enabled.
func Open(ctx context.Context, opts ...Option) (*Journal, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("eventjournal: %w", err)
	}
	return open(ctx, cfg, opts...)
}

func open(ctx context.Context, cfg config.Config, opts ...Option) (*Journal, error) {
	st := &settings{
		connectionString:                 cfg.ConnectionString,
		provider:                         cfg.Provider,
		tagMode:                          cfg.TagMode,
		autoInitialize:                   cfg.AutoInitialize,
		useCloneConnection:               cfg.UseCloneConnection,
		parallelism:                      cfg.Parallelism,
		bufferSize:                       cfg.BufferSize,
		batchSize:                        cfg.BatchSize,
		maxRowByRowSize:                  cfg.MaxRowByRowSize,
		dbRoundTripBatchSize:             cfg.DBRoundTripBatchSize,
		dbRoundTripTagBatchSize:          cfg.DBRoundTripTagBatchSize,
		preferParametersOnMultiRowInsert: cfg.PreferParametersOnMultiRowInsert,
		deleteCompatibilityMode:          cfg.DeleteCompatibilityMode,
		refreshInterval:                  cfg.RefreshInterval,
		maxBufferSize:                    cfg.MaxBufferSize,
		safetyWindow:                     cfg.SafetyWindow,
		maxRetries:                       cfg.MaxRetries,
		retryBaseDelay:                   cfg.RetryBaseDelay,
		serializer:                       serializer.NewJSON(),
		logger:                           slog.Default(),
	}
	for _, opt := range opts {
		opt(st)
	}

	backend, err := newBackend(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("eventjournal: %w", err)
	}

	if st.autoInitialize {
		if err := initializeSchema(ctx, backend); err != nil {
			_ = backend.Close(ctx)
			return nil, fmt.Errorf("eventjournal: %w", err)
		}
	}

	j := newJournal(backend, st)
	j.write.Start(ctx)
	return j, nil
}

func newBackend(ctx context.Context, st *settings) (storage.Backend, error) {
	cfg := storage.Config{
		ConnectionString:   st.connectionString,
		Provider:           st.provider,
		TagMode:            st.tagMode,
		AutoInitialize:     st.autoInitialize,
		UseCloneConnection: st.useCloneConnection,
		Logger:             st.logger,
	}
	switch st.provider {
	case model.ProviderPostgres:
		return storage.NewPostgres(ctx, cfg)
	case model.ProviderSQLiteMS, model.ProviderSQLiteClassic:
		return storage.NewSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", st.provider)
	}
}

func newJournal(backend storage.Backend, st *settings) *Journal {
	ids := idgen.New()

	writeCfg := writepipeline.Config{
		TagMode:                 st.tagMode,
		BufferSize:              st.bufferSize,
		BatchSize:               st.batchSize,
		Parallelism:             st.parallelism,
		MaxRowByRowSize:         st.maxRowByRowSize,
		DBRoundTripBatchSize:    st.dbRoundTripBatchSize,
		DBRoundTripTagBatchSize: st.dbRoundTripTagBatchSize,
		MaxRetries:              st.maxRetries,
		RetryBaseDelay:          st.retryBaseDelay,
	}
	readCfg := readcontrol.Config{
		RefreshInterval: st.refreshInterval,
		MaxBufferSize:   st.maxBufferSize,
		SafetyWindow:    st.safetyWindow,
	}

	return &Journal{
		backend:   backend,
		logger:    st.logger,
		write:     writepipeline.New(writeCfg, backend, st.serializer, ids, st.logger),
		del:       deleter.New(backend, st.deleteCompatibilityMode, st.tagMode, st.maxRetries, st.retryBaseDelay),
		replayer:  replay.New(backend, st.serializer),
		tagEngine: tagquery.New(backend, st.serializer, st.tagMode, readCfg),
		allEngine: allevents.New(backend, st.serializer, readCfg),
	}
}

func initializeSchema(ctx context.Context, backend storage.Backend) error {
	statements, err := storage.LoadSQLFiles(schemaFSFor(backend.ProviderName()))
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	return backend.RunMigrations(ctx, statements)
}

func schemaFSFor(provider model.ProviderName) fs.FS {
	if provider == model.ProviderPostgres {
		return migrations.Postgres
	}
	return migrations.SQLite
}

// Close stops the write pipeline and releases the backend connection.
func (j *Journal) Close(ctx context.Context) error {
	if err := j.write.Close(ctx); err != nil {
		return fmt.Errorf("eventjournal: close write pipeline: %w", err)
	}
	return j.backend.Close(ctx)
}

// WriteMessages persists each AtomicWrite and reports its outcome
// positionally. A serialization or queue failure affects only its own
// write; a storage failure fails every write inserted in the same batch.
func (j *Journal) WriteMessages(ctx context.Context, writes []AtomicWrite, timestamp int64) ([]error, error) {
	return j.write.WriteMessages(ctx, writes, timestamp)
}

// Update overwrites the message of one existing row in place.
func (j *Journal) Update(ctx context.Context, repr PersistentRepr) error {
	return j.write.Update(ctx, repr)
}

// Delete runs the delete protocol for persistenceID up to and including maxSeq.
func (j *Journal) Delete(ctx context.Context, persistenceID string, maxSeq int64) error {
	return j.del.Delete(ctx, persistenceID, maxSeq)
}

// HighestSequenceNr returns the maximum sequence number known for
// persistenceID, restricted to sequence numbers greater than fromSeq.
func (j *Journal) HighestSequenceNr(ctx context.Context, persistenceID string, fromSeq int64) (int64, error) {
	return j.del.HighestSequenceNr(ctx, persistenceID, fromSeq)
}

// Messages replays events for persistenceID, fromSeq through toSeq
// inclusive, bounded to max rows fetched (pass a negative value for no limit).
func (j *Journal) Messages(ctx context.Context, persistenceID string, fromSeq, toSeq, max int64) ([]replay.Completion, error) {
	if max < 0 {
		max = math.MaxInt64
	}
	return j.replayer.Messages(ctx, persistenceID, fromSeq, toSeq, max)
}

// EventsByTagCurrent runs a bounded tag query until caught up with the database.
func (j *Journal) EventsByTagCurrent(ctx context.Context, tag string, offset int64, onResult func(tagquery.Result) error) error {
	return j.tagEngine.Current(ctx, tag, offset, onResult)
}

// EventsByTagLive polls a tag query forever until ctx is cancelled.
func (j *Journal) EventsByTagLive(ctx context.Context, tag string, offset int64, onResult func(tagquery.Result) error) error {
	return j.tagEngine.Live(ctx, tag, offset, onResult)
}

// AllEventsCurrent runs the all-events scan until caught up with the database.
func (j *Journal) AllEventsCurrent(ctx context.Context, offset int64, onResult func(allevents.Result) error) error {
	return j.allEngine.Current(ctx, offset, onResult)
}

// AllEventsLive polls the all-events scan forever until ctx is cancelled.
func (j *Journal) AllEventsLive(ctx context.Context, offset int64, onResult func(allevents.Result) error) error {
	return j.allEngine.Live(ctx, offset, onResult)
}

// PersistenceIDsCurrent emits each distinct persistence id once, in
// first-seen order, then returns once caught up.
func (j *Journal) PersistenceIDsCurrent(ctx context.Context, offset int64, onID func(string) error) error {
	return j.allEngine.PersistenceIDsCurrent(ctx, offset, onID)
}

// PersistenceIDsLive emits each newly observed persistence id once, forever
// until ctx is cancelled.
func (j *Journal) PersistenceIDsLive(ctx context.Context, offset int64, onID func(string) error) error {
	return j.allEngine.PersistenceIDsLive(ctx, offset, onID)
}
