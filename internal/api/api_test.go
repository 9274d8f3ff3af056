package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/config"
	"github.com/hartproperty/propsync/internal/market"
	"github.com/hartproperty/propsync/internal/reconcile"
	"github.com/hartproperty/propsync/internal/store"
	"github.com/hartproperty/propsync/internal/valuation"
)

const adminToken = "s3cret"

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	zap.ReplaceGlobals(zap.NewNop())

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	srv := New(Deps{
		Valuations: valuation.NewService(st),
		Trends:     market.NewService(st, nil),
		Admin:      st,
		Runner:     reconcile.New(st, reconcile.Config{}),
	}, config.ServerConfig{AdminToken: adminToken, CORSOrigins: []string{"*"}})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func do(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestValuation_InsufficientData(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := do(t, http.MethodPost, ts.URL+"/api/valuation", "", map[string]any{
		"condo_name": "Example Towers",
		"unit_label": "#08-05",
		"sqft":       900,
		"email":      "owner@example.com",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, valuation.MessageLimited, body["message"])
	assert.Equal(t, valuation.OutcomeInsufficient, body["outcome"])
}

func TestValuation_BadRequest(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/valuation", "", map[string]any{
		"condo_name": "Example Towers", "unit_label": "#08-05", "sqft": 900, "email": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/valuation", bytes.NewBufferString("{"))
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestUnitInfoAndTrend_Validation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/condos/unit-info?condo=Example+Towers&unit=PH", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/market/trend", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/market/trend?condo=Nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_RequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/admin/transactions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/admin/transactions", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdmin_UpsertListEdit(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/admin/transactions", adminToken, map[string]any{
		"condo_name":  "Lakeview Residences",
		"sale_date":   "2024-01-15",
		"sale_price":  1650000,
		"exact_level": 8,
		"exact_unit":  5,
		"sqft":        900,
		"unit_type":   "3 Bedroom",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	report := body["report"].(map[string]any)
	assert.EqualValues(t, 1, report["inserted"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/admin/transactions?condo=Lakeview+Residences", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := body["transactions"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.NotContains(t, row, "exact_unit")
	assert.EqualValues(t, 8, row["exact_level"])
	id := row["id"].(string)

	resp, body = do(t, http.MethodPost, ts.URL+"/api/admin/transactions", adminToken, map[string]any{
		"id":             id,
		"purchase_price": 1500000,
		"purchase_date":  "2022-01-15",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := body["transaction"].(map[string]any)
	assert.InDelta(t, 150000, updated["profit"], 0.01)
	assert.NotContains(t, updated, "exact_unit")

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/admin/transactions", adminToken, map[string]any{
		"id": "missing", "sale_price": 1,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/admin/transactions", adminToken, map[string]any{
		"condo_name": "Lakeview Residences", "sale_date": "15/01/2024", "sale_price": 1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/admin/runs", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["runs"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/condos", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"Lakeview Residences"}, body["condos"])
}
