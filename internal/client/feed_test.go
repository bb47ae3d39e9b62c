package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/poller"
)

type recorder struct {
	mu   sync.Mutex
	obs  []poller.Observation
	done chan struct{}
	once sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) deliver(obs poller.Observation) {
	r.mu.Lock()
	r.obs = append(r.obs, obs)
	r.mu.Unlock()
	if obs.Err != nil || (obs.Report != nil && obs.Report.State.Terminal()) {
		r.once.Do(func() { close(r.done) })
	}
}

func (r *recorder) all() []poller.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]poller.Observation(nil), r.obs...)
}

func pushServer(t *testing.T, handle func(jobID string, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/ws/jobs/")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(jobID, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeed_DeliversUntilComplete(t *testing.T) {
	srv := pushServer(t, func(jobID string, conn *websocket.Conn) {
		conn.WriteJSON(model.WSProgressMessage{Type: model.WSMessageTypeProgress, JobID: jobID, Seq: 1, Kind: model.JobKindPostConversion, State: model.JobStateProcessing, Progress: 40})
		conn.WriteJSON(model.WSMessage{Type: model.WSMessageTypePong})
		conn.WriteJSON(model.WSCompleteMessage{Type: model.WSMessageTypeComplete, JobID: jobID, Seq: 2, Kind: model.JobKindPostConversion, Result: []byte(`{"ads":[]}`)})
		conn.ReadMessage()
	})

	feed := NewFeed(srv.URL, "", nil)
	defer feed.Stop()

	rec := newRecorder()
	require.True(t, feed.Watch(context.Background(), "job-1", 0, rec.deliver))

	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("feed never completed")
	}

	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, model.JobStateProcessing, got[0].Report.State)
	assert.Equal(t, 40, got[0].Report.Progress)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, model.JobStateReady, got[1].Report.State)
	assert.Equal(t, 100, got[1].Report.Progress)
	assert.JSONEq(t, `{"ads":[]}`, string(got[1].Report.Result))
}

func TestFeed_ErrorMessageFailsJob(t *testing.T) {
	srv := pushServer(t, func(jobID string, conn *websocket.Conn) {
		conn.WriteJSON(model.WSErrorMessage{Type: model.WSMessageTypeError, JobID: jobID, Seq: 3, Error: model.WSError{Code: "JOB_FAILED", Message: "decoder crashed"}})
		conn.ReadMessage()
	})

	feed := NewFeed(srv.URL, "", nil)
	defer feed.Stop()

	rec := newRecorder()
	feed.Watch(context.Background(), "job-2", 0, rec.deliver)
	<-rec.done

	got := rec.all()
	require.Len(t, got, 1)
	require.NoError(t, got[0].Err)
	assert.Equal(t, model.JobStateFailed, got[0].Report.State)
	assert.Equal(t, "decoder crashed", got[0].Report.Error)
}

func TestFeed_ConnectionDropIsAnError(t *testing.T) {
	srv := pushServer(t, func(jobID string, conn *websocket.Conn) {
		conn.WriteJSON(model.WSProgressMessage{Type: model.WSMessageTypeProgress, JobID: jobID, Seq: 1, State: model.JobStateUploading, Progress: 10})
	})

	feed := NewFeed(srv.URL, "", nil)
	defer feed.Stop()

	rec := newRecorder()
	feed.Watch(context.Background(), "job-3", 0, rec.deliver)
	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("drop not reported")
	}

	got := rec.all()
	require.Len(t, got, 2)
	assert.Error(t, got[1].Err)
}

func TestFeed_DialFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	feed := NewFeed(srv.URL, "", nil)
	defer feed.Stop()

	rec := newRecorder()
	feed.Watch(context.Background(), "job-4", 0, rec.deliver)
	<-rec.done

	got := rec.all()
	require.Len(t, got, 1)
	assert.ErrorContains(t, got[0].Err, "job-4")
}

func TestFeed_NoDeliveryAfterCancel(t *testing.T) {
	release := make(chan struct{})
	srv := pushServer(t, func(jobID string, conn *websocket.Conn) {
		conn.WriteJSON(model.WSProgressMessage{Type: model.WSMessageTypeProgress, JobID: jobID, Seq: 1, State: model.JobStateUploading, Progress: 5})
		<-release
		conn.WriteJSON(model.WSProgressMessage{Type: model.WSMessageTypeProgress, JobID: jobID, Seq: 2, State: model.JobStateProcessing, Progress: 50})
	})
	defer close(release)

	feed := NewFeed(srv.URL, "", nil)
	defer feed.Stop()

	first := make(chan struct{}, 1)
	var mu sync.Mutex
	var count int
	feed.Watch(context.Background(), "job-5", 0, func(poller.Observation) {
		mu.Lock()
		count++
		mu.Unlock()
		select {
		case first <- struct{}{}:
		default:
		}
	})

	<-first
	feed.Cancel("job-5")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestFeed_DuplicateWatchIsNoop(t *testing.T) {
	srv := pushServer(t, func(jobID string, conn *websocket.Conn) {
		conn.ReadMessage()
	})

	feed := NewFeed(srv.URL, "", nil)
	defer feed.Stop()

	noop := func(poller.Observation) {}
	assert.True(t, feed.Watch(context.Background(), "job-6", 0, noop))
	assert.False(t, feed.Watch(context.Background(), "job-6", 0, noop))
}

func TestNewFeed_WebsocketScheme(t *testing.T) {
	assert.Equal(t, "wss://api.example.com", NewFeed("https://api.example.com/", "", nil).wsURL)
	assert.Equal(t, "ws://localhost:8000", NewFeed("http://localhost:8000", "", nil).wsURL)
}
