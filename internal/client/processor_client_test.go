package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignops/api/internal/config"
	"github.com/campaignops/api/internal/model"
)

func newTestProcessor(t *testing.T, h http.HandlerFunc) *ProcessorClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewProcessorClient(&config.ProcessorConfig{URL: srv.URL + "/", Token: "secret"}, nil)
}

func TestProcessorClient_FetchStatus(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/job-1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(model.StatusReport{JobID: "job-1", Kind: model.JobKindEnrichment, State: model.JobStateProcessing, Progress: 60})
	})

	report, err := c.FetchStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateProcessing, report.State)
	assert.Equal(t, 60, report.Progress)
}

func TestProcessorClient_NotFound(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.FetchStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessorClient_ServerError(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.ListJobs(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "500")
}

func TestProcessorClient_MalformedBody(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})

	_, err := c.FetchStatus(context.Background(), "job-1")
	assert.ErrorContains(t, err, "unmarshal")
}

func TestProcessorClient_ListAndExport(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/jobs":
			json.NewEncoder(w).Encode(model.JobListResponse{Jobs: []model.StatusReport{
				{JobID: "a", State: model.JobStateReady},
				{JobID: "b", State: model.JobStateUploading},
			}})
		case "/api/jobs/a/export":
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte("\"id\"\r\n\"a\"\r\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	jobs, err := c.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[1].JobID)

	body, err := c.Export(context.Background(), "a")
	require.NoError(t, err)
	defer body.Close()
	data, _ := io.ReadAll(body)
	assert.Equal(t, "\"id\"\r\n\"a\"\r\n", string(data))
}

func TestProcessorClient_AttachJob(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/campaigns/c1/jobs/j1", r.URL.Path)
		json.NewEncoder(w).Encode(model.Campaign{ID: "c1", JobIDs: []string{"j1"}, Status: model.CampaignStatusProcessing})
	})

	campaign, err := c.AttachJob(context.Background(), "c1", "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, campaign.JobIDs)
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage("http://localhost:8000/files/")

	url, err := m.Upload(ctx, "uploads/a.csv", strings.NewReader("id\n1\n"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/files/uploads/a.csv", url)

	body, err := m.Download(ctx, "uploads/a.csv")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, "id\n1\n", string(data))

	require.NoError(t, m.Delete(ctx, "uploads/a.csv"))
	_, err = m.Download(ctx, "uploads/a.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}
