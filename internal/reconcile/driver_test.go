package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/internal/resilience"
	"github.com/hartproperty/propsync/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeFeed struct {
	source  model.Source
	batches map[string][]model.Transaction
	drops   map[string][]normalize.Drop
	// errs are returned, in order, before a unit succeeds.
	errs map[string][]error
	// block makes Fetch wait for its context.
	block bool

	mu       sync.Mutex
	calls    map[string]int
	finished []string
}

func newFakeFeed(src model.Source) *fakeFeed {
	return &fakeFeed{
		source:  src,
		batches: map[string][]model.Transaction{},
		drops:   map[string][]normalize.Drop{},
		errs:    map[string][]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeFeed) Source() model.Source { return f.source }

func (f *fakeFeed) Fetch(ctx context.Context, unit string) (*Batch, error) {
	f.mu.Lock()
	f.calls[unit]++
	if q := f.errs[unit]; len(q) > 0 {
		f.errs[unit] = q[1:]
		f.mu.Unlock()
		return nil, q[0]
	}
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &Batch{
		Result: normalize.Result{Candidates: f.batches[unit], Drops: f.drops[unit]},
		Finish: func(context.Context) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.finished = append(f.finished, unit)
			return nil
		},
	}, nil
}

func candidate(price float64, level, unit *int, low, high *int, src model.Source) model.Transaction {
	t := model.Transaction{
		CondoName:  "Lakeview Residences",
		SaleDate:   model.Date(2023, 6, 15),
		SalePrice:  price,
		ExactLevel: level,
		ExactUnit:  unit,
		LevelLow:   low,
		LevelHigh:  high,
		Source:     src,
	}
	identity.Stamp(&t)
	return t
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRun_InsertsThenSkips(t *testing.T) {
	st := newTestStore(t)
	feed := newFakeFeed(model.SourceGovernment)
	feed.batches["1"] = []model.Transaction{
		candidate(1000000, nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment),
		candidate(1100000, nil, nil, model.Ptr(11), model.Ptr(15), model.SourceGovernment),
	}
	feed.batches["2"] = []model.Transaction{
		candidate(1200000, model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage),
	}
	feed.drops["2"] = []normalize.Drop{{Source: model.SourceGovernment, Reason: normalize.ReasonInvalidPrice}}
	d := New(st, Config{Retry: fastRetry()})

	report, err := d.Run(context.Background(), feed, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Units)
	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 3, report.Inserted)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 1, report.DropReasons[normalize.ReasonInvalidPrice])
	assert.ElementsMatch(t, []string{"1", "2"}, feed.finished)

	again, err := d.Run(context.Background(), feed, []string{"1", "2"})
	require.NoError(t, err)
	assert.Zero(t, again.Inserted)
	assert.Zero(t, again.Updated)
	assert.Equal(t, 3, again.Skipped)

	rows, err := st.TransactionsForCondo(context.Background(), "Lakeview Residences")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunComplete, runs[0].Status)
}

func TestRun_UpdatesRangeRowWithExactData(t *testing.T) {
	st := newTestStore(t)
	ura := newFakeFeed(model.SourceGovernment)
	ura.batches["1"] = []model.Transaction{candidate(1000000, nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)}
	pn := newFakeFeed(model.SourceBrokerage)
	pn.batches["42"] = []model.Transaction{candidate(1000000, model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)}
	d := New(st, Config{Retry: fastRetry()})

	_, err := d.Run(context.Background(), ura, []string{"1"})
	require.NoError(t, err)
	report, err := d.Run(context.Background(), pn, []string{"42"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Inserted)

	rows, err := st.TransactionsForCondo(context.Background(), "Lakeview Residences")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 8, *rows[0].ExactLevel)
	assert.Equal(t, 6, *rows[0].LevelLow)
}

func TestRun_RangeReportSharingCoarseKeyKeepsOneRow(t *testing.T) {
	st := newTestStore(t)
	d := New(st, Config{Retry: fastRetry()})

	first := newFakeFeed(model.SourceGovernment)
	first.batches["1"] = []model.Transaction{candidate(1250000, nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)}
	_, err := d.Run(context.Background(), first, []string{"1"})
	require.NoError(t, err)

	later := candidate(1250000, nil, nil, model.Ptr(21), model.Ptr(25), model.SourceGovernment)
	later.Sqft = model.Ptr(1184.0)
	second := newFakeFeed(model.SourceGovernment)
	second.batches["2"] = []model.Transaction{later}
	report, err := d.Run(context.Background(), second, []string{"2"})
	require.NoError(t, err)
	assert.Zero(t, report.Inserted)
	assert.Equal(t, 1, report.Updated+report.Skipped)

	rows, err := st.TransactionsForCondo(context.Background(), "Lakeview Residences")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 6, *rows[0].LevelLow)
	assert.Equal(t, 10, *rows[0].LevelHigh)
	require.NotNil(t, rows[0].Sqft)
	assert.Equal(t, 1184.0, *rows[0].Sqft)
}

func TestRun_FailedUnitRecordedMissing(t *testing.T) {
	st := newTestStore(t)
	feed := newFakeFeed(model.SourceBrokerage)
	feed.errs["17"] = []error{errors.New("propnex: project 17: non-JSON response")}
	feed.batches["18"] = []model.Transaction{candidate(1000000, model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)}
	d := New(st, Config{Retry: fastRetry()})

	report, err := d.Run(context.Background(), feed, []string{"17", "18"})
	require.NoError(t, err)
	assert.Equal(t, []string{"17"}, report.FailedUnits)
	assert.Equal(t, 1, report.Units)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, feed.calls["17"], "permanent errors are not retried")

	missing, err := st.ListMissing(context.Background(), model.SourceBrokerage)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "17", missing[0].Unit)
	assert.Equal(t, resilience.ClassPermanent, missing[0].ErrorClass)

	// A later successful fetch clears the entry.
	_, err = d.Run(context.Background(), feed, []string{"17"})
	require.NoError(t, err)
	missing, err = st.ListMissing(context.Background(), model.SourceBrokerage)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestRun_TransientErrorRetried(t *testing.T) {
	st := newTestStore(t)
	feed := newFakeFeed(model.SourceGovernment)
	feed.errs["1"] = []error{resilience.NewTransientError(errors.New("bad gateway"), 502)}
	feed.batches["1"] = []model.Transaction{candidate(1000000, nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)}
	d := New(st, Config{Retry: fastRetry()})

	report, err := d.Run(context.Background(), feed, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, 2, feed.calls["1"])
	assert.Empty(t, report.FailedUnits)
	assert.Equal(t, 1, report.Inserted)
}

func TestRun_FatalAbortsRun(t *testing.T) {
	st := newTestStore(t)
	feed := newFakeFeed(model.SourceBrokerage)
	feed.batches["1"] = []model.Transaction{candidate(1000000, model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)}
	feed.errs["2"] = []error{resilience.NewFatalError("propnex", errors.New("Slim Application Error"))}
	d := New(st, Config{Retry: fastRetry()})

	report, err := d.Run(context.Background(), feed, []string{"1", "2", "3"})
	require.Error(t, err)
	assert.True(t, resilience.IsFatal(err))
	assert.True(t, report.Aborted)
	assert.Equal(t, 1, feed.calls["2"])
	assert.Zero(t, feed.calls["3"])
	assert.Equal(t, 1, report.Inserted, "writes before the fault are kept")

	runs, err := st.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "Slim Application Error")
}

func TestRun_DeadlineAbortsRun(t *testing.T) {
	st := newTestStore(t)
	feed := newFakeFeed(model.SourceOCR)
	feed.block = true
	d := New(st, Config{Retry: fastRetry(), RunTimeout: 20 * time.Millisecond})

	report, err := d.Run(context.Background(), feed, []string{"a.png", "b.png"})
	require.Error(t, err)
	assert.True(t, report.Aborted)
	assert.Zero(t, feed.calls["b.png"])
}

// flakyStore fails selected operations.
type flakyStore struct {
	*store.SQLiteStore
	failUpsert bool
	failFind   bool
}

func (f *flakyStore) UpsertExact(ctx context.Context, rows []model.Transaction) (int64, error) {
	if f.failUpsert {
		return 0, errors.New("deadlock detected")
	}
	return f.SQLiteStore.UpsertExact(ctx, rows)
}

func (f *flakyStore) FindByCoarseKeys(ctx context.Context, keys []identity.CoarseKey) ([]model.Transaction, error) {
	if f.failFind {
		return nil, errors.New("statement timeout")
	}
	return f.SQLiteStore.FindByCoarseKeys(ctx, keys)
}

func TestRun_FailedWriteChunkDoesNotStopOthers(t *testing.T) {
	st := &flakyStore{SQLiteStore: newTestStore(t), failUpsert: true}
	feed := newFakeFeed(model.SourceBrokerage)
	feed.batches["1"] = []model.Transaction{
		candidate(1000000, model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage),
		candidate(1100000, nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment),
	}
	d := New(st, Config{Retry: fastRetry()})

	report, err := d.Run(context.Background(), feed, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedChunks)
	assert.Equal(t, 1, report.Inserted)
}

func TestRun_UnreadableKeysAreNotInserted(t *testing.T) {
	st := &flakyStore{SQLiteStore: newTestStore(t), failFind: true}
	feed := newFakeFeed(model.SourceGovernment)
	feed.batches["1"] = []model.Transaction{candidate(1000000, nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)}
	d := New(st, Config{Retry: fastRetry()})

	report, err := d.Run(context.Background(), feed, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unresolved)
	assert.Zero(t, report.Inserted)

	rows, err := st.TransactionsForCondo(context.Background(), "Lakeview Residences")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRun_OpenCircuitSkipsFetches(t *testing.T) {
	st := newTestStore(t)
	feed := newFakeFeed(model.SourceBrokerage)
	transient := resilience.NewTransientError(errors.New("503"), 503)
	units := []string{"1", "2", "3"}
	for _, u := range units {
		feed.errs[u] = []error{transient, transient, transient}
	}
	d := New(st, Config{Retry: resilience.RetryConfig{MaxAttempts: 1}, BreakerThreshold: 2})

	report, err := d.Run(context.Background(), feed, units)
	require.NoError(t, err)
	assert.Equal(t, units, report.FailedUnits)
	assert.Zero(t, feed.calls["3"])

	missing, err := st.ListMissing(context.Background(), model.SourceBrokerage)
	require.NoError(t, err)
	require.Len(t, missing, 3)
	for _, m := range missing {
		assert.Equal(t, resilience.ClassTransient, m.ErrorClass)
	}
}
