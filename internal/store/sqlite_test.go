package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/merge"
	"github.com/hartproperty/propsync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sale(level, unit *int, low, high *int, src model.Source) model.Transaction {
	t := model.Transaction{
		CondoName:  "Lakeview Residences",
		SaleDate:   model.Date(2023, 6, 15),
		SalePrice:  1250000,
		Source:     src,
		ExactLevel: level,
		ExactUnit:  unit,
		LevelLow:   low,
		LevelHigh:  high,
	}
	identity.Stamp(&t)
	return t
}

// applyPlan runs one reconciliation pass of candidates against s.
func applyPlan(t *testing.T, s *SQLiteStore, candidates []model.Transaction) []merge.Decision {
	t.Helper()
	ctx := context.Background()
	keys := make([]identity.CoarseKey, len(candidates))
	for i := range candidates {
		keys[i] = identity.Coarse(&candidates[i])
	}
	existing, err := s.FindByCoarseKeys(ctx, keys)
	require.NoError(t, err)

	ds := merge.Plan(candidates, existing)
	for _, d := range ds {
		switch d.Action {
		case merge.Insert:
			if d.Row.HasExactLocation() {
				_, err = s.UpsertExact(ctx, []model.Transaction{d.Row})
			} else {
				_, err = s.InsertRange(ctx, []model.Transaction{d.Row})
			}
		case merge.Update:
			_, err = s.FillNulls(ctx, d.IDs, d.Row, d.ExactID)
		}
		require.NoError(t, err)
	}
	return ds
}

func allRows(t *testing.T, s *SQLiteStore) []model.Transaction {
	t.Helper()
	rows, err := s.TransactionsForCondo(context.Background(), "Lakeview Residences")
	require.NoError(t, err)
	return rows
}

func TestSQLite_MigrateTwice(t *testing.T) {
	s := newTestSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_ReconcileIdempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	exact := sale(model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)
	exact.UnitType = model.Ptr("3BR")
	ranged := sale(nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)
	ranged.Sqft = model.Ptr(1001.0)
	cands := []model.Transaction{exact, ranged}

	applyPlan(t, s, cands)
	first := allRows(t, s)
	require.Len(t, first, 1)
	assert.Equal(t, 8, *first[0].ExactLevel)
	assert.Equal(t, 1001.0, *first[0].Sqft)
	assert.Equal(t, 6, *first[0].LevelLow)

	second := applyPlan(t, s, cands)
	for _, d := range second {
		assert.Equal(t, merge.Skip, d.Action, d.Key)
	}
	assert.Equal(t, first, allRows(t, s))
}

func TestSQLite_RangeThenExactUpgradesRow(t *testing.T) {
	s := newTestSQLiteStore(t)
	applyPlan(t, s, []model.Transaction{sale(nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)})

	exact := sale(model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)
	exact.PurchasePrice = model.Ptr(900000.0)
	exact.PurchaseDate = model.Ptr(model.Date(2018, 6, 15))
	applyPlan(t, s, []model.Transaction{exact})

	rows := allRows(t, s)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, 8, *r.ExactLevel)
	assert.Equal(t, 5, *r.ExactUnit)
	assert.Equal(t, 6, *r.LevelLow)
	assert.Equal(t, 10, *r.LevelHigh)
	assert.Equal(t, 900000.0, *r.PurchasePrice)
	require.NotNil(t, r.Profit)
	assert.Equal(t, 350000.0, *r.Profit)
	assert.Equal(t, model.SourceGovernment, r.Source)

	// A later range-only report must not erase the exact location.
	applyPlan(t, s, []model.Transaction{sale(nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)})
	again := allRows(t, s)
	require.Len(t, again, 1)
	assert.Equal(t, 8, *again[0].ExactLevel)
}

func TestSQLite_RangeReportsSharingCoarseKeyCollapse(t *testing.T) {
	s := newTestSQLiteStore(t)
	applyPlan(t, s, []model.Transaction{sale(nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)})

	ds := applyPlan(t, s, []model.Transaction{sale(nil, nil, model.Ptr(21), model.Ptr(25), model.SourceGovernment)})
	require.Len(t, ds, 1)
	assert.NotEqual(t, merge.Insert, ds[0].Action)

	rows := allRows(t, s)
	require.Len(t, rows, 1)
	assert.Equal(t, 6, *rows[0].LevelLow)
	assert.Equal(t, 10, *rows[0].LevelHigh)
}

func TestSQLite_UpsertExactFillsOnly(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	row := sale(model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)
	row.ID = "a"
	row.Sqft = model.Ptr(1001.0)
	_, err := s.UpsertExact(ctx, []model.Transaction{row})
	require.NoError(t, err)

	dup := row
	dup.ID = "b"
	dup.Sqft = model.Ptr(999.0)
	dup.UnitType = model.Ptr("3BR")
	_, err = s.UpsertExact(ctx, []model.Transaction{dup})
	require.NoError(t, err)

	got, err := s.GetTransaction(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1001.0, *got.Sqft)
	assert.Equal(t, "3BR", *got.UnitType)
	_, err = s.GetTransaction(ctx, "b")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_FillNullsExactOnlyOnTarget(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	a := sale(nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)
	a.ID = "a"
	b := a
	b.ID = "b"
	_, err := s.InsertRange(ctx, []model.Transaction{a, b})
	require.NoError(t, err)

	fill := model.Transaction{ExactLevel: model.Ptr(8), ExactUnit: model.Ptr(5), UnitType: model.Ptr("2BR")}
	n, err := s.FillNulls(ctx, []string{"a", "b"}, fill, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ga, err := s.GetTransaction(ctx, "a")
	require.NoError(t, err)
	gb, err := s.GetTransaction(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, ga.ExactLevel)
	assert.Equal(t, "2BR", *ga.UnitType)
	assert.Equal(t, 8, *gb.ExactLevel)
	assert.Equal(t, 5, *gb.ExactUnit)
}

func TestSQLite_ClearUnconfirmedUnits(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	unconfirmed := sale(model.Ptr(8), model.Ptr(5), model.Ptr(6), model.Ptr(10), model.SourceBrokerage)
	unconfirmed.ID = "u"
	unconfirmed.BrokerageProjectID = model.Ptr(int64(42))
	confirmed := sale(model.Ptr(9), model.Ptr(5), model.Ptr(6), model.Ptr(10), model.SourceBrokerage)
	confirmed.ID = "c"
	confirmed.BrokerageProjectID = model.Ptr(int64(42))
	confirmed.PurchasePrice = model.Ptr(800000.0)
	// No stored range: cleared all the same.
	bare := sale(model.Ptr(12), model.Ptr(3), nil, nil, model.SourceBrokerage)
	bare.ID = "b"
	bare.BrokerageProjectID = model.Ptr(int64(42))
	_, err := s.UpsertExact(ctx, []model.Transaction{unconfirmed, confirmed, bare})
	require.NoError(t, err)

	n, err := s.ClearUnconfirmedUnits(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.GetTransaction(ctx, "u")
	require.NoError(t, err)
	assert.Nil(t, got.ExactLevel)
	assert.Nil(t, got.ExactUnit)
	assert.Equal(t, 6, *got.LevelLow)
	cleared, err := s.GetTransaction(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, cleared.ExactLevel)
	assert.Nil(t, cleared.ExactUnit)
	kept, err := s.GetTransaction(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 9, *kept.ExactLevel)
}

func TestSQLite_PriorSale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	older := sale(model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)
	older.SaleDate, older.SalePrice = model.Date(2015, 3, 15), 800000
	identity.Stamp(&older)
	newer := sale(model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)
	newer.SaleDate, newer.SalePrice = model.Date(2019, 3, 15), 950000
	identity.Stamp(&newer)
	_, err := s.UpsertExact(ctx, []model.Transaction{older, newer})
	require.NoError(t, err)

	got, err := s.PriorSale(ctx, "lakeview residences", 8, 5, model.Date(2023, 6, 15))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 950000.0, got.SalePrice)
	assert.Equal(t, model.Date(2019, 3, 15), got.SaleDate)

	none, err := s.PriorSale(ctx, "lakeview residences", 8, 5, model.Date(2015, 1, 1))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLite_CanonicalNamesKeepsEarliest(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	first := sale(nil, nil, model.Ptr(1), model.Ptr(5), model.SourceGovernment)
	first.CreatedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	second := sale(nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)
	second.CondoName = "LAKEVIEW RESIDENCES"
	second.CreatedAt = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.InsertRange(ctx, []model.Transaction{second, first})
	require.NoError(t, err)

	names, err := s.CanonicalNames(ctx, []string{"lakeview residences", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lakeview residences": "Lakeview Residences"}, names)

	all, err := s.CondoNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lakeview Residences"}, all)
}

func TestSQLite_ValuationReads(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	a := sale(model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)
	a.Sqft = model.Ptr(1001.0)
	b := sale(nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)
	b.SalePrice = 1300000
	b.Sqft = model.Ptr(1200.0)
	identity.Stamp(&b)
	_, err := s.UpsertExact(ctx, []model.Transaction{a})
	require.NoError(t, err)
	_, err = s.InsertRange(ctx, []model.Transaction{b})
	require.NoError(t, err)

	resale := sale(model.Ptr(8), model.Ptr(5), nil, nil, model.SourceBrokerage)
	resale.SaleDate, resale.SalePrice = model.Date(2024, 9, 2), 1400000
	resale.Sqft = model.Ptr(980.0)
	identity.Stamp(&resale)
	_, err = s.UpsertExact(ctx, []model.Transaction{resale})
	require.NoError(t, err)

	sq, err := s.UnitSqft(ctx, "lakeview residences", 8, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{980, 1001}, sq)

	floor, err := s.FloorSqfts(ctx, "Lakeview Residences", 8)
	require.NoError(t, err)
	assert.Equal(t, []float64{980, 1001, 1200}, floor)

	comps, err := s.Comparables(ctx, ComparableQuery{Condo: "Lakeview Residences", MinSqft: 1100, MaxSqft: 1300})
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, 1300000.0, comps[0].SalePrice)

	listed, err := s.ListTransactions(ctx, ListFilter{Source: model.SourceBrokerage})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, model.SourceBrokerage, listed[0].Source)
}

func TestSQLite_SaveTransaction(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	row := sale(nil, nil, model.Ptr(6), model.Ptr(10), model.SourceGovernment)
	row.ID = "r"
	_, err := s.InsertRange(ctx, []model.Transaction{row})
	require.NoError(t, err)

	got, err := s.GetTransaction(ctx, "r")
	require.NoError(t, err)
	got.UnitType = model.Ptr("2BR")
	require.NoError(t, s.SaveTransaction(ctx, *got))

	saved, err := s.GetTransaction(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "2BR", *saved.UnitType)
	assert.Equal(t, got.CreatedAt, saved.CreatedAt)

	err = s.SaveTransaction(ctx, model.Transaction{ID: "missing", SaleDate: model.Date(2023, 1, 1)})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Runs(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := s.StartRun(ctx, model.SourceGovernment)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, ok, map[string]int{"inserted": 2}))
	bad, err := s.StartRun(ctx, model.SourceOCR)
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, bad, "vision: quota"))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, bad, runs[0].ID)
	assert.Equal(t, model.RunFailed, runs[0].Status)
	assert.Equal(t, "vision: quota", runs[0].Error)
	assert.Equal(t, model.RunComplete, runs[1].Status)
	assert.JSONEq(t, `{"inserted":2}`, string(runs[1].Report))
	assert.NotNil(t, runs[1].CompletedAt)

	assert.Error(t, s.CompleteRun(ctx, 999, nil))
}

func TestSQLite_MissingUnits(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	m := model.MissingUnit{Source: model.SourceBrokerage, Unit: "project:17", Error: "timeout", ErrorClass: "transient"}

	require.NoError(t, s.RecordMissing(ctx, m))
	m.Error = "bad gateway"
	require.NoError(t, s.RecordMissing(ctx, m))
	require.NoError(t, s.RecordMissing(ctx, model.MissingUnit{Source: model.SourceOCR, Unit: "a.png", Error: "x", ErrorClass: "permanent"}))

	got, err := s.ListMissing(ctx, model.SourceBrokerage)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Attempts)
	assert.Equal(t, "bad gateway", got[0].Error)

	all, err := s.ListMissing(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.ResolveMissing(ctx, model.SourceBrokerage, "project:17"))
	got, err = s.ListMissing(ctx, model.SourceBrokerage)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_BrokerageAndLeads(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p := model.Project{ProjectID: 42, Name: "Lakeview Residences", Tenure: model.Ptr("99 yrs")}
	_, err := s.UpsertProjects(ctx, []model.Project{p})
	require.NoError(t, err)
	p.Name = "Lakeview Residences (Phase 2)"
	_, err = s.UpsertProjects(ctx, []model.Project{p})
	require.NoError(t, err)

	var name string
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT name FROM brokerage_projects WHERE project_id = 42").Scan(&name))
	assert.Equal(t, "Lakeview Residences (Phase 2)", name)

	_, err = s.UpsertRentals(ctx, []model.Rental{{RentalID: 1, ProjectID: model.Ptr(int64(42)), Rent: model.Ptr(4200.0)}})
	require.NoError(t, err)

	require.NoError(t, s.InsertLead(ctx, model.Lead{Email: "a@example.com", CondoName: "Lakeview Residences", UnitLabel: "#08-05", Sqft: 1001, Outcome: "estimate"}))
	var leads int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM valuation_leads").Scan(&leads))
	assert.Equal(t, 1, leads)
}
