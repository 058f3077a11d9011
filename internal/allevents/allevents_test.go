package allevents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcflow-db/eventjournal/internal/model"
	"github.com/arcflow-db/eventjournal/internal/readcontrol"
	"github.com/arcflow-db/eventjournal/internal/serializer/taggingtest"
	"github.com/arcflow-db/eventjournal/internal/storage"
)

// fakeBackend implements just enough of storage.Backend to drive
// FetchAllEvents/MaxOrdering from a fixed row set, reproducing scenario S1.
type fakeBackend struct{ rows []model.EventRow }

func (f *fakeBackend) ProviderName() model.ProviderName          { return model.ProviderPostgres }
func (f *fakeBackend) Close(context.Context) error               { return nil }
func (f *fakeBackend) Begin(context.Context) (storage.Tx, error) { return nil, nil }
func (f *fakeBackend) InsertRowSingle(context.Context, model.EventRow) (int64, error) {
	return 0, nil
}
func (f *fakeBackend) InsertRowTx(context.Context, storage.Tx, model.EventRow) (int64, error) {
	return 0, nil
}
func (f *fakeBackend) BulkInsertRows(context.Context, storage.Tx, []model.EventRow, storage.BulkStrategy) (int64, error) {
	return 0, nil
}
func (f *fakeBackend) BulkInsertTagRows(context.Context, storage.Tx, []model.TagRow) (int64, error) {
	return 0, nil
}
func (f *fakeBackend) UpdateMessage(context.Context, string, int64, []byte, string) error { return nil }
func (f *fakeBackend) MarkDeleted(context.Context, storage.Tx, string, int64) error        { return nil }
func (f *fakeBackend) MaxSequenceWhereDeleted(context.Context, storage.Tx, string) (int64, bool, error) {
	return 0, false, nil
}
func (f *fakeBackend) UpsertMetadata(context.Context, storage.Tx, string, int64) error         { return nil }
func (f *fakeBackend) HardDeleteRange(context.Context, storage.Tx, string, int64, int64) error { return nil }
func (f *fakeBackend) DeleteMetadataBelow(context.Context, storage.Tx, string, int64) error     { return nil }
func (f *fakeBackend) DeleteTagRows(context.Context, storage.Tx, string, int64) error           { return nil }
func (f *fakeBackend) HighestSequenceNr(context.Context, string, int64, bool) (int64, error) {
	return 0, nil
}
func (f *fakeBackend) ReplayRows(context.Context, string, int64, int64, int64) ([]model.EventRow, error) {
	return nil, nil
}
func (f *fakeBackend) MaxOrdering(context.Context) (int64, error) {
	var max int64
	for _, r := range f.rows {
		if r.Ordering > max {
			max = r.Ordering
		}
	}
	return max, nil
}
func (f *fakeBackend) FetchByTagCSV(context.Context, string, int64, int64, int) ([]model.EventRow, error) {
	return nil, nil
}
func (f *fakeBackend) FetchByTagTable(context.Context, string, int64, int64, int) ([]model.EventRow, error) {
	return nil, nil
}
func (f *fakeBackend) FetchAllEvents(_ context.Context, gt, le int64, limit int) ([]model.EventRow, error) {
	var out []model.EventRow
	for _, r := range f.rows {
		if r.Deleted || r.Ordering <= gt || r.Ordering > le {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
func (f *fakeBackend) RunMigrations(context.Context, []string) error { return nil }

func s1Rows() []model.EventRow {
	texts := []struct {
		pid  string
		seq  int64
		text string
	}{
		{"a", 1, "hello"},
		{"b", 1, "a black car"},
		{"a", 2, "something else"},
		{"a", 3, "a green banana"},
		{"a", 4, "an invalid apple"},
		{"b", 2, "a green leaf"},
		{"b", 3, "a repeated green leaf"},
		{"b", 4, "a repeated green leaf"},
	}
	rows := make([]model.EventRow, len(texts))
	for i, tx := range texts {
		rows[i] = model.EventRow{
			Ordering: int64(i + 1), PersistenceID: tx.pid, SequenceNumber: tx.seq, Message: []byte(tx.text),
		}
	}
	return rows
}

func TestCurrentAllEventsScenarioS1(t *testing.T) {
	backend := &fakeBackend{rows: s1Rows()}
	e := New(backend, taggingtest.Serializer{}, readcontrol.Config{MaxBufferSize: 10, SafetyWindow: 0})

	var got []string
	err := e.Current(context.Background(), 0, func(r Result) error {
		require.NoError(t, r.Err)
		got = append(got, r.Envelope.Event.(string))
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"hello", "a black car", "something else", "a green banana",
		"a green leaf", "a repeated green leaf", "a repeated green leaf",
	}, got, "the invalid-apple row yields zero envelopes but the stream still completes")
}

func TestCurrentAllEventsScenarioS2FanOut(t *testing.T) {
	rows := s1Rows()
	rows[4].Message = []byte("a duplicated apple") // replaces "an invalid apple"
	backend := &fakeBackend{rows: rows}
	e := New(backend, taggingtest.Serializer{}, readcontrol.Config{MaxBufferSize: 10, SafetyWindow: 0})

	var got []string
	err := e.Current(context.Background(), 0, func(r Result) error {
		got = append(got, r.Envelope.Event.(string))
		return nil
	})
	require.NoError(t, err)
	require.Contains(t, got, "a duplicated apple-1")
	require.Contains(t, got, "a duplicated apple-2")
	require.Len(t, got, 9)
}

func TestPersistenceIDsCurrentDeduplicates(t *testing.T) {
	backend := &fakeBackend{rows: s1Rows()}
	e := New(backend, taggingtest.Serializer{}, readcontrol.Config{MaxBufferSize: 10, SafetyWindow: 0})

	var ids []string
	err := e.PersistenceIDsCurrent(context.Background(), 0, func(id string) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestLiveAllEventsStopsOnCancel(t *testing.T) {
	backend := &fakeBackend{rows: s1Rows()[:1]}
	e := New(backend, taggingtest.Serializer{}, readcontrol.Config{MaxBufferSize: 10, SafetyWindow: 0, RefreshInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Live(ctx, 0, func(Result) error { return nil })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Live did not stop after cancellation")
	}
}
