package eventjournal

import (
	"log/slog"
	"time"

	"github.com/arcflow-db/eventjournal/internal/model"
)

// settings collects every constructor knob Open accepts. Building it from
// internal/config.Config gives every spec.md §6 default a single source of
// truth; Option values override individual fields afterward.
type settings struct {
	connectionString   string
	provider           model.ProviderName
	tagMode            model.TagMode
	autoInitialize     bool
	useCloneConnection bool

	parallelism                      int
	bufferSize                       int
	batchSize                        int
	maxRowByRowSize                  int
	dbRoundTripBatchSize             int
	dbRoundTripTagBatchSize          int
	preferParametersOnMultiRowInsert bool

	deleteCompatibilityMode bool

	refreshInterval time.Duration
	maxBufferSize   int
	safetyWindow    int64

	maxRetries     int
	retryBaseDelay time.Duration

	serializer Serializer
	logger     *slog.Logger
}

// Option customizes a Journal beyond its loaded or default configuration.
type Option func(*settings)

// WithSerializer overrides the default serializer.JSON. Use this to plug in
// a domain-specific codec, including one with read-side fan-out.
func WithSerializer(s Serializer) Option {
	return func(st *settings) { st.serializer = s }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(st *settings) { st.logger = logger }
}

// WithTagMode overrides the configured tag storage layout.
func WithTagMode(mode TagMode) Option {
	return func(st *settings) { st.tagMode = mode }
}

// WithDeleteCompatibilityMode overrides the configured delete compatibility setting.
func WithDeleteCompatibilityMode(enabled bool) Option {
	return func(st *settings) { st.deleteCompatibilityMode = enabled }
}

// WithParallelism overrides the write pipeline's bounded-parallelism limit.
func WithParallelism(n int) Option {
	return func(st *settings) { st.parallelism = n }
}

// WithSafetyWindow overrides the ordering-gap tolerance used by live/current
// query streams.
func WithSafetyWindow(n int64) Option {
	return func(st *settings) { st.safetyWindow = n }
}

// WithRetry overrides the retry budget around a write-batch or delete
// transaction that fails with a transient serialization or deadlock error.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(st *settings) {
		st.maxRetries = maxRetries
		st.retryBaseDelay = baseDelay
	}
}
