package alegra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/optistock/internal/etl"
	"github.com/BartekS5/optistock/internal/failure"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Authorization: "Basic dGVzdA=="})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredential(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://example.invalid"})
	require.Error(t, err)
	assert.Equal(t, failure.KindAuth, failure.KindOf(err))
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestFetchPageSendsHeadersAndParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/purchase-orders", r.URL.Path)
		assert.Equal(t, "Basic dGVzdA==", r.Header.Get("authorization"))
		assert.Equal(t, "60", r.URL.Query().Get("start"))
		assert.Equal(t, "30", r.URL.Query().Get("limit"))
		assert.Equal(t, "ASC", r.URL.Query().Get("order_direction"))
		_, _ = w.Write([]byte(`[{"id": 12345678901234567890, "name": "Orden"}]`))
	})

	page, err := c.FetchPage(context.Background(), etl.PageRequest{
		Endpoint: "/purchase-orders",
		Start:    60,
		Limit:    30,
		Params:   map[string]string{"order_direction": "ASC"},
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, json.Number("12345678901234567890"), page.Records[0]["id"])
	assert.Equal(t, -1, page.Total)
}

func TestFetchPageEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"metadata": {"total": 95}, "data": [{"id": "1"}, {"id": "2"}]}`))
	})
	page, err := c.FetchPage(context.Background(), etl.PageRequest{Endpoint: "/items"})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 95, page.Total)
}

func TestFetchPageClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		kind      failure.Kind
		retryable bool
	}{
		{http.StatusUnauthorized, failure.KindAuth, false},
		{http.StatusForbidden, failure.KindAuth, false},
		{http.StatusTooManyRequests, failure.KindTransport, true},
		{http.StatusBadGateway, failure.KindTransport, true},
		{http.StatusNotFound, failure.KindTransport, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"message": "nope"}`))
			})
			_, err := c.FetchPage(context.Background(), etl.PageRequest{Endpoint: "/items"})
			require.Error(t, err)
			assert.Equal(t, tc.kind, failure.KindOf(err))
			assert.Equal(t, tc.retryable, failure.IsRetryable(err))
		})
	}
}

func TestFetchPageMalformedBodyIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1},`))
	})
	_, err := c.FetchPage(context.Background(), etl.PageRequest{Endpoint: "/items"})
	require.Error(t, err)
	assert.True(t, failure.IsRetryable(err))
}
