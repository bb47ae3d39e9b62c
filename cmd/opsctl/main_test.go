package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignops/api/internal/model"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"topic=spring sale", "clipCount=4", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"topic": "spring sale", "clipCount": "4", "empty": ""}, got)

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}

func TestJobRows(t *testing.T) {
	headers, rows, aligns := jobRows([]model.StatusReport{
		{JobID: "j1", Kind: model.JobKindEnrichment, State: model.JobStateProcessing, Progress: 40},
		{JobID: "j2", Kind: model.JobKindPostConversion, State: model.JobStateFailed, Error: "boom"},
	})
	assert.Len(t, aligns, len(headers))
	assert.Equal(t, []string{"j1", "enrichment", "processing", "40%", ""}, rows[0])
	assert.Equal(t, "boom", rows[1][4])

	out := renderTable(headers, rows, aligns)
	assert.Contains(t, out, "j1")
	assert.Contains(t, out, "40%")
}

func TestRenderTableEmptyHeaders(t *testing.T) {
	assert.Empty(t, renderTable(nil, [][]string{{"x"}}, nil))
}

func TestTrackerPrintsChangesOnce(t *testing.T) {
	var buf bytes.Buffer
	tr := newTracker(&buf)

	job := model.Job{ID: "j1", Kind: model.JobKindEnrichment, State: model.JobStateProcessing, Progress: 10}
	tr.onChange([]model.Job{job})
	tr.onChange([]model.Job{job})
	job.Progress = 20
	tr.onChange([]model.Job{job})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestTrackerWaitSeesEarlierTerminal(t *testing.T) {
	tr := newTracker(&bytes.Buffer{})
	tr.onChange([]model.Job{{ID: "j1", State: model.JobStateReady, Progress: 100}})

	j, err := tr.wait(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateReady, j.State)
}

func TestTrackerWaitBlocksUntilTerminal(t *testing.T) {
	tr := newTracker(&bytes.Buffer{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.onChange([]model.Job{{ID: "j1", State: model.JobStateFailed, Error: "bad input"}})
	}()

	j, err := tr.wait(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "bad input", j.Error)
}

func TestTrackerWaitHonoursContext(t *testing.T) {
	tr := newTracker(&bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.wait(ctx, "j1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfirmer(t *testing.T) {
	var out bytes.Buffer
	bg := context.Background()
	assert.True(t, confirmer(strings.NewReader("y\n"), &out, false)(bg, 5000))
	assert.Contains(t, out.String(), "5000")
	assert.False(t, confirmer(strings.NewReader("\n"), &out, false)(bg, 5000))
	assert.False(t, confirmer(strings.NewReader(""), &out, false)(bg, 5000))
	assert.True(t, confirmer(strings.NewReader(""), &out, true)(bg, 5000))

	ask := confirmer(strings.NewReader("no\nyes\n"), &out, false)
	assert.False(t, ask(bg, 2000))
	assert.True(t, ask(bg, 2000))
}

func TestConfirmerGivesUpWhenCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	ask := confirmer(pr, &out, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- ask(ctx, 5000) }()
	select {
	case answer := <-done:
		assert.False(t, answer)
	case <-time.After(time.Second):
		t.Fatal("prompt ignored cancellation")
	}
}

// fakeProcessor serves the job endpoints the console uses
func fakeProcessor(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu        sync.Mutex
		dismissed []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jobs":[
			{"jobId":"job-7","kind":"post-conversion","state":"failed","progress":0,"error":"ad account disabled"},
			{"jobId":"job-8","kind":"post-conversion","state":"processing","progress":40}
		]}`)
	})
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jobId":"`+r.PathValue("id")+`","kind":"post-conversion","state":"ready","progress":100,"result":{"ads":[]}}`)
	})
	mux.HandleFunc("DELETE /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":"NOT_FOUND","message":"Job not found"}}`)
			return
		}
		mu.Lock()
		dismissed = append(dismissed, r.PathValue("id"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, &dismissed
}

func runCommand(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestDismissCommandGoesThroughProcessor(t *testing.T) {
	ts, dismissed := fakeProcessor(t)

	out, err := runCommand(context.Background(), "--url", ts.URL, "dismiss", "job-7")
	require.NoError(t, err)
	assert.Contains(t, out, "dismissed job-7")
	assert.Equal(t, []string{"job-7"}, *dismissed)

	_, err = runCommand(context.Background(), "--url", ts.URL, "dismiss", "missing")
	assert.Error(t, err)
}

func TestJobsFollowReconcilesAndTracks(t *testing.T) {
	ts, _ := fakeProcessor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	out, err := runCommand(ctx, "--url", ts.URL, "jobs", "--follow", "--interval", "20ms")
	require.NoError(t, err)

	assert.Contains(t, out, "job-7  failed: ad account disabled")
	assert.Contains(t, out, "job-8  ready")
	assert.Equal(t, 1, strings.Count(out, "job-7  failed"), "reconciling again does not repeat a job")
}

func TestRecordColumns(t *testing.T) {
	assert.Equal(t, []string{"Name", "Email"}, recordColumns([]string{"Name", "", "Email"}, nil))
	assert.Equal(t, []string{"A"}, recordColumns(nil, []string{"A"}))
}

func TestDateRange(t *testing.T) {
	assert.Equal(t, "", dateRange("", ""))
	assert.Equal(t, "2025-01-01 → 2025-02-01", dateRange("2025-01-01", "2025-02-01"))
}
