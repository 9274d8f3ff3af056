package ura

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartproperty/propsync/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("access-key",
		WithBaseURL(srv.URL+"/invoke"),
		WithTokenURL(srv.URL+"/token"),
		WithRateLimit(1000),
	)
}

func TestToken_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		assert.Equal(t, "access-key", r.Header.Get("AccessKey"))
		w.Write([]byte(`{"Status":"Success","Result":"tok-123"}`)) //nolint:errcheck
	})

	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestToken_Failure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"Status":"Failed","Message":"Invalid access key","Result":""}`)) //nolint:errcheck
	})

	_, err := c.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token request failed")
}

func TestBatch_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoke", r.URL.Path)
		assert.Equal(t, "PMI_Resi_Transaction", r.URL.Query().Get("service"))
		assert.Equal(t, "2", r.URL.Query().Get("batch"))
		assert.Equal(t, "tok", r.Header.Get("Token"))
		w.Write([]byte(`{"Status":"Success","Result":[{
			"project":"EXAMPLE TOWERS","street":"EXAMPLE RD","x":28000.5,"y":"30000","marketSegment":"OCR",
			"transaction":[{"area":"83.6","floorRange":"06 - 10","noOfUnits":"1","contractDate":"0124",
				"typeOfSale":"3","price":"1650000","propertyType":"Condominium","district":"15",
				"typeOfArea":"Strata","tenure":"99 yrs lease commencing from 2010"}]}]}`)) //nolint:errcheck
	})

	projects, err := c.Batch(context.Background(), "tok", 2)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "EXAMPLE TOWERS", projects[0].Project)
	assert.Equal(t, Text("28000.5"), projects[0].X)
	require.Len(t, projects[0].Transactions, 1)
	assert.Equal(t, Text("06 - 10"), projects[0].Transactions[0].FloorRange)
	assert.Equal(t, Text("0124"), projects[0].Transactions[0].ContractDate)
}

func TestBatch_NonSuccessStatusIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"Status":"Failed","Message":"batch unavailable","Result":[]}`)) //nolint:errcheck
	})

	projects, err := c.Batch(context.Background(), "tok", 4)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestBatch_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Batch(context.Background(), "tok", 1)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestBatch_ClientErrorIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.Batch(context.Background(), "tok", 1)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
