package feeds

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/internal/reconcile"
	"github.com/hartproperty/propsync/internal/store"
	"github.com/hartproperty/propsync/pkg/propnex"
	"github.com/hartproperty/propsync/pkg/ura"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockURA struct {
	mock.Mock
}

func (m *mockURA) Token(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockURA) Batch(ctx context.Context, token string, batch int) ([]ura.Project, error) {
	args := m.Called(ctx, token, batch)
	projects, _ := args.Get(0).([]ura.Project)
	return projects, args.Error(1)
}

type staticNames map[string]string

func (s staticNames) CanonicalNames(_ context.Context, normalized []string) (map[string]string, error) {
	out := map[string]string{}
	for _, n := range normalized {
		if v, ok := s[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func uraBatch() []ura.Project {
	return []ura.Project{{
		Project: "LAKEVIEW RESIDENCES",
		Transactions: []ura.Transaction{
			{Area: "93", FloorRange: "06 - 10", ContractDate: "0623", TypeOfSale: "3", Price: "1500000", PropertyType: "Condominium"},
			{Area: "120", FloorRange: "01 - 05", ContractDate: "0623", TypeOfSale: "3", Price: "2100000", PropertyType: "Strata Terrace"},
		},
	}}
}

func TestURAFeed_TokenFetchedOnce(t *testing.T) {
	client := &mockURA{}
	client.On("Token", mock.Anything).Return("tok", nil).Once()
	client.On("Batch", mock.Anything, "tok", 1).Return(uraBatch(), nil)
	client.On("Batch", mock.Anything, "tok", 2).Return([]ura.Project(nil), nil)

	feed := NewURAFeed(client, staticNames{"lakeview residences": "Lakeview Residences"})

	b, err := feed.Fetch(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, b.Candidates, 1)
	assert.Equal(t, "Lakeview Residences", b.Candidates[0].CondoName)
	assert.Equal(t, 6, *b.Candidates[0].LevelLow)
	require.Len(t, b.Drops, 1)
	assert.Equal(t, normalize.ReasonNonResidential, b.Drops[0].Reason)

	b, err = feed.Fetch(context.Background(), "2")
	require.NoError(t, err)
	assert.Empty(t, b.Candidates)
	client.AssertExpectations(t)
}

func TestURAFeed_TokenErrorNotCached(t *testing.T) {
	client := &mockURA{}
	client.On("Token", mock.Anything).Return("", errors.New("down")).Once()
	client.On("Token", mock.Anything).Return("tok", nil).Once()
	client.On("Batch", mock.Anything, "tok", 3).Return(uraBatch(), nil)

	feed := NewURAFeed(client, nil)
	_, err := feed.Fetch(context.Background(), "3")
	require.Error(t, err)

	b, err := feed.Fetch(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "LAKEVIEW RESIDENCES", b.Candidates[0].CondoName)
}

func TestURAFeed_InvalidUnit(t *testing.T) {
	_, err := NewURAFeed(&mockURA{}, nil).Fetch(context.Background(), "x")
	assert.Error(t, err)
}

type fakePropNex struct {
	responses map[int]*propnex.ProjectResponse
	err       error
}

func (f *fakePropNex) Project(_ context.Context, id int) (*propnex.ProjectResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[id], nil
}

type mockPropNexStore struct {
	mock.Mock
}

func (m *mockPropNexStore) UpsertProjects(ctx context.Context, p []model.Project) (int64, error) {
	args := m.Called(ctx, p)
	return int64(args.Int(0)), args.Error(1)
}

func (m *mockPropNexStore) UpsertRentals(ctx context.Context, r []model.Rental) (int64, error) {
	args := m.Called(ctx, r)
	return int64(args.Int(0)), args.Error(1)
}

func (m *mockPropNexStore) ClearUnconfirmedUnits(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return int64(args.Int(0)), args.Error(1)
}

func propnexResponse() *propnex.ProjectResponse {
	return &propnex.ProjectResponse{
		ProjectID:   propnex.S(42),
		ProjectName: propnex.S("LAKEVIEW RESIDENCES"),
		Sales: []propnex.Sale{{
			SaleID:                 propnex.S(9001),
			SaleProjectNameDisplay: propnex.S("Lakeview Residences"),
			SaleDate:               propnex.S("2023-06-02"),
			SalePrice:              propnex.S(1500000),
			SaleFloor:              propnex.S(8),
			SaleUnitNum:            propnex.S(5),
			SaleAreaSqft:           propnex.S(1001),
			UnitType:               propnex.S("3 Bedroom"),
		}},
		Rentals: []propnex.Rental{{RentalID: propnex.S(77), RentalRent: propnex.S(5200)}},
	}
}

func TestPropNexFeed_FetchAndFinish(t *testing.T) {
	st := &mockPropNexStore{}
	st.On("UpsertProjects", mock.Anything, mock.MatchedBy(func(p []model.Project) bool {
		return len(p) == 1 && p[0].ProjectID == 42
	})).Return(1, nil)
	st.On("UpsertRentals", mock.Anything, mock.MatchedBy(func(r []model.Rental) bool {
		return len(r) == 1 && r[0].RentalID == 77
	})).Return(1, nil)
	st.On("ClearUnconfirmedUnits", mock.Anything, int64(42)).Return(0, nil)

	feed := NewPropNexFeed(&fakePropNex{responses: map[int]*propnex.ProjectResponse{42: propnexResponse()}}, st)
	b, err := feed.Fetch(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, b.Candidates, 1)
	assert.Equal(t, int64(42), *b.Candidates[0].BrokerageProjectID)
	assert.Equal(t, 8, *b.Candidates[0].ExactLevel)

	require.NotNil(t, b.Finish)
	require.NoError(t, b.Finish(context.Background()))
	st.AssertExpectations(t)
}

func TestPropNexFeed_FinishJoinsErrors(t *testing.T) {
	st := &mockPropNexStore{}
	st.On("UpsertProjects", mock.Anything, mock.Anything).Return(0, errors.New("projects down"))
	st.On("UpsertRentals", mock.Anything, mock.Anything).Return(1, nil)
	st.On("ClearUnconfirmedUnits", mock.Anything, int64(42)).Return(0, errors.New("clear down"))

	feed := NewPropNexFeed(&fakePropNex{responses: map[int]*propnex.ProjectResponse{42: propnexResponse()}}, st)
	b, err := feed.Fetch(context.Background(), "42")
	require.NoError(t, err)

	err = b.Finish(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projects down")
	assert.Contains(t, err.Error(), "clear down")
}

func TestPropNexFeed_EmptyProject(t *testing.T) {
	feed := NewPropNexFeed(&fakePropNex{responses: map[int]*propnex.ProjectResponse{}}, &mockPropNexStore{})
	b, err := feed.Fetch(context.Background(), "7")
	require.NoError(t, err)
	assert.Empty(t, b.Candidates)
	assert.Nil(t, b.Finish)
}

func TestPropNexFeed_ErrorKeepsClass(t *testing.T) {
	fatal := errors.New("upstream outage")
	feed := NewPropNexFeed(&fakePropNex{err: fatal}, &mockPropNexStore{})
	_, err := feed.Fetch(context.Background(), "7")
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
}

type fakeExtractor struct {
	mu    sync.Mutex
	rows  map[string][]normalize.VisionRow
	fails map[string]int
	calls map[string]int
}

func (f *fakeExtractor) Extract(_ context.Context, path string) ([]normalize.VisionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	if f.fails[path] > 0 {
		f.fails[path]--
		return nil, errors.New("model overloaded")
	}
	return f.rows[path], nil
}

func TestOCRFeed_PrefetchCachesAndAudits(t *testing.T) {
	ext := &fakeExtractor{
		rows: map[string][]normalize.VisionRow{
			"a.png": {
				{Date: "23 Dec 2025", Level: float64(12), Unit: float64(5), Price: float64(1650000), SaleType: "New Sale"},
				{Date: "someday", Level: float64(3), Unit: float64(1), Price: float64(900000)},
			},
			"b.png": {{Date: "2025-11-02", Level: float64(4), Unit: float64(2), Price: float64(1200000)}},
		},
		fails: map[string]int{"b.png": 1},
		calls: map[string]int{},
	}
	feed := NewOCRFeed(ext, nil, "Lakeview Residences", 2)
	feed.Prefetch(context.Background(), []string{"a.png", "b.png"})

	b, err := feed.Fetch(context.Background(), "a.png")
	require.NoError(t, err)
	assert.Len(t, b.Candidates, 1)
	assert.Len(t, b.Drops, 1)
	assert.Equal(t, 1, ext.calls["a.png"])

	b, err = feed.Fetch(context.Background(), "b.png")
	require.NoError(t, err)
	assert.Len(t, b.Candidates, 1)
	assert.Equal(t, 2, ext.calls["b.png"])

	audit := feed.Audit()
	require.Len(t, audit, 3)
	accepted := 0
	for _, e := range audit {
		if e.Accepted {
			accepted++
			assert.NotNil(t, e.Transaction)
		} else {
			assert.Equal(t, normalize.ReasonInvalidDate, e.Drop.Reason)
		}
	}
	assert.Equal(t, 2, accepted)
}

func TestImageUnits(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.PNG", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o700))

	units, err := ImageUnits(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.PNG"), filepath.Join(dir, "b.jpg")}, units)

	_, err = ImageUnits(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}

func TestRangeUnits(t *testing.T) {
	assert.Equal(t, []string{"3", "4", "5"}, RangeUnits(3, 5))
	assert.Nil(t, RangeUnits(5, 3))
}

func writePatches(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patches.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestManualFeed_SplitsCandidatesAndEdits(t *testing.T) {
	path := writePatches(t, `
- condo_name: Lakeview Residences
  sale_date: "2024-01-15"
  sale_price: 1650000
  exact_level: 8
  exact_unit: 5
  unit_type: 3 Bedroom
- condo_name: Lakeview Residences
  sale_date: "15/01/2024"
  sale_price: 1
- id: abc
  purchase_price: 1200000
`)
	b, err := NewManualFeed(nil).Fetch(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, b.Candidates, 1)
	assert.Equal(t, model.SourceManual, b.Candidates[0].Source)
	require.Len(t, b.Drops, 1)
	assert.Equal(t, normalize.ReasonInvalidField, b.Drops[0].Reason)
	assert.NotNil(t, b.Finish)
}

func TestManualFeed_BadYAML(t *testing.T) {
	path := writePatches(t, "condo_name: [unterminated")
	_, err := NewManualFeed(nil).Fetch(context.Background(), path)
	assert.Error(t, err)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "feeds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestManualFeed_ThroughDriver(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	driver := reconcile.New(st, reconcile.Config{})
	feed := NewManualFeed(st)

	insert := writePatches(t, `
- condo_name: Lakeview Residences
  sale_date: "2024-01-15"
  sale_price: 1650000
  exact_level: 8
  exact_unit: 5
  sqft: 900
  unit_type: 3 Bedroom
`)
	report, err := driver.Run(ctx, feed, []string{insert})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)

	rows, err := st.ListTransactions(ctx, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0].ID

	edit := writePatches(t, `
- id: `+id+`
  purchase_price: 1500000
  purchase_date: "2022-01-15"
`)
	_, err = driver.Run(ctx, feed, []string{edit})
	require.NoError(t, err)

	got, err := st.GetTransaction(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Profit)
	assert.InDelta(t, 150000, *got.Profit, 0.01)
	require.NotNil(t, got.AnnualisedPct)
	assert.Greater(t, *got.AnnualisedPct, 4.0)
}

func TestManualFeed_Inline(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	feed := NewManualFeed(st).Inline([]normalize.Patch{{
		CondoName: model.Ptr("Lakeview Residences"),
		SaleDate:  model.Ptr("2024-02-01"),
		SalePrice: model.Ptr(1_200_000.0),
		Sqft:      model.Ptr(850.0),
		UnitType:  model.Ptr("2 Bedroom"),
	}})
	assert.Equal(t, model.SourceManual, feed.Source())

	report, err := reconcile.New(st, reconcile.Config{}).Run(ctx, feed, []string{"inline"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
}

func TestEdit_RequiresID(t *testing.T) {
	err := Edit(context.Background(), nil, normalize.Patch{})
	assert.ErrorIs(t, err, normalize.ErrInvalidPatch)
}

func TestMissingUnits(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.RecordMissing(ctx, model.MissingUnit{Source: model.SourceBrokerage, Unit: "12", Error: "boom", ErrorClass: "transient"}))
	require.NoError(t, st.RecordMissing(ctx, model.MissingUnit{Source: model.SourceGovernment, Unit: "2", Error: "boom", ErrorClass: "transient"}))

	units, err := MissingUnits(ctx, st, model.SourceBrokerage)
	require.NoError(t, err)
	assert.Equal(t, []string{"12"}, units)
}
