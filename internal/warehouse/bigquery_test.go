package warehouse

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/BartekS5/optistock/pkg/logger"
)

// fakeBigQuery answers dataset lookups with 404 and dataset inserts with createStatus.
func fakeBigQuery(t *testing.T, createStatus int) *BigQuery {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error": {"code": 404, "message": "Not found: Dataset"}}`)
			return
		}
		w.WriteHeader(createStatus)
		if createStatus == http.StatusOK {
			fmt.Fprint(w, `{"datasetReference": {"projectId": "acme", "datasetId": "optistock"}}`)
			return
		}
		fmt.Fprintf(w, `{"error": {"code": %d, "message": "Already Exists: Dataset"}}`, createStatus)
	}))
	t.Cleanup(srv.Close)

	client, err := bigquery.NewClient(context.Background(), "acme",
		option.WithEndpoint(srv.URL+"/bigquery/v2/"), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return &BigQuery{client: client, location: "US"}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, logger.Configure(logger.Options{Level: "debug", Output: &buf}))
	t.Cleanup(logger.Close)
	return &buf
}

func TestEnsureDatasetCreates(t *testing.T) {
	wh := fakeBigQuery(t, http.StatusOK)
	logs := captureLogs(t)

	require.NoError(t, wh.EnsureDataset(context.Background(), "acme", "optistock"))
	assert.Contains(t, logs.String(), "Created dataset acme.optistock")
}

func TestEnsureDatasetLosesCreateRace(t *testing.T) {
	wh := fakeBigQuery(t, http.StatusConflict)
	logs := captureLogs(t)

	require.NoError(t, wh.EnsureDataset(context.Background(), "acme", "optistock"))
	assert.NotContains(t, logs.String(), "Created dataset")
	assert.Contains(t, logs.String(), "already created by another writer")
}
