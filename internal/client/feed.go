package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/poller"
)

// Feed observes jobs over the processor's websocket push channel. It is the
// push alternative to poller.Poller and feeds the same orchestrator.
type Feed struct {
	wsURL  string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	watches map[string]*feedWatch
	stopped bool
	wg      sync.WaitGroup
}

type feedWatch struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	cancelled bool
}

var _ poller.Observer = (*Feed)(nil)

// NewFeed creates a push observer for the processor at baseURL
func NewFeed(baseURL, token string, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return &Feed{
		wsURL:   ws,
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
		watches: make(map[string]*feedWatch),
	}
}

// Watch subscribes to jobID. The interval is unused: updates are pushed.
func (f *Feed) Watch(ctx context.Context, jobID string, _ time.Duration, deliver poller.DeliverFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	if _, ok := f.watches[jobID]; ok {
		return false
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &feedWatch{cancel: cancel}
	f.watches[jobID] = w
	f.wg.Add(1)
	go f.run(wctx, jobID, w, deliver)
	return true
}

// Cancel closes the subscription. No observation is delivered after it returns.
func (f *Feed) Cancel(jobID string) {
	f.mu.Lock()
	w, ok := f.watches[jobID]
	if ok {
		delete(f.watches, jobID)
	}
	f.mu.Unlock()

	if ok {
		w.stop()
	}
}

// Stop closes every subscription and waits for the readers to exit
func (f *Feed) Stop() {
	f.mu.Lock()
	f.stopped = true
	watches := f.watches
	f.watches = make(map[string]*feedWatch)
	f.mu.Unlock()

	for _, w := range watches {
		w.stop()
	}
	f.wg.Wait()
}

func (w *feedWatch) stop() {
	w.cancel()
	w.mu.Lock()
	w.cancelled = true
	if w.conn != nil {
		w.conn.Close()
	}
	w.mu.Unlock()
}

func (w *feedWatch) attach(conn *websocket.Conn) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		return false
	}
	w.conn = conn
	return true
}

func (w *feedWatch) deliver(fn poller.DeliverFunc, obs poller.Observation) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		return false
	}
	fn(obs)
	return true
}

func (f *Feed) run(ctx context.Context, jobID string, w *feedWatch, deliver poller.DeliverFunc) {
	defer f.wg.Done()
	defer func() {
		f.mu.Lock()
		if f.watches[jobID] == w {
			delete(f.watches, jobID)
		}
		f.mu.Unlock()
		w.stop()
	}()

	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}
	conn, resp, err := f.dialer.DialContext(ctx, f.wsURL+"/ws/jobs/"+url.PathEscape(jobID), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() == nil {
			w.deliver(deliver, poller.Observation{JobID: jobID, Err: fmt.Errorf("subscribe to job %s: %w", jobID, err)})
		}
		return
	}
	if !w.attach(conn) {
		conn.Close()
		return
	}

	for {
		var env model.WSEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = errors.New("feed closed before the job finished")
			}
			f.logger.Debug("feed read failed", zap.String("jobId", jobID), zap.Error(err))
			w.deliver(deliver, poller.Observation{JobID: jobID, Err: err})
			return
		}

		obs, ok := observationFrom(jobID, env)
		if !ok {
			continue
		}
		if !w.deliver(deliver, obs) {
			return
		}
		if obs.Err != nil {
			f.logger.Warn("feed delivered error", zap.String("jobId", jobID), zap.Error(obs.Err))
			return
		}
		if obs.Report.State.Terminal() {
			return
		}
	}
}

// observationFrom maps a pushed message to an observation. Keep-alive and
// unknown messages map to nothing.
func observationFrom(jobID string, env model.WSEnvelope) (poller.Observation, bool) {
	obs := poller.Observation{JobID: jobID, Seq: env.Seq}
	switch env.Type {
	case model.WSMessageTypeProgress:
		if !slices.Contains(model.ValidJobStates, env.State) || env.Progress < 0 || env.Progress > 100 {
			obs.Err = fmt.Errorf("job %s pushed invalid progress %q/%d", jobID, env.State, env.Progress)
			return obs, true
		}
		obs.Report = &model.StatusReport{JobID: jobID, Kind: env.Kind, State: env.State, Progress: env.Progress}
	case model.WSMessageTypeComplete:
		obs.Report = &model.StatusReport{JobID: jobID, Kind: env.Kind, State: model.JobStateReady, Progress: 100, Result: env.Result}
	case model.WSMessageTypeError:
		msg := "processing failed"
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		obs.Report = &model.StatusReport{JobID: jobID, Kind: env.Kind, State: model.JobStateFailed, Error: msg}
	default:
		return poller.Observation{}, false
	}
	return obs, true
}
