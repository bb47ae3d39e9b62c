package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/model"
)

// Client is one subscriber of a job's push channel
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	// done is closed when the hub drops the client; Send is never closed
	done chan struct{}
}

func (c *Client) offer(data []byte) {
	select {
	case c.Send <- data:
	case <-c.done:
	default:
	}
}

// SnapshotFunc loads the current job so a new subscriber starts from it
type SnapshotFunc func(ctx context.Context, jobID string) (*model.Job, error)

// Hub fans job events out to the subscribers of each job
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	snapshot SnapshotFunc
	logger   *zap.Logger

	// stopped is closed when Run returns so late senders do not block
	stopped chan struct{}

	mu sync.RWMutex
}

// BroadcastMessage is an encoded event for one job
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a Hub. It does nothing until Run is started.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		logger:     logger,
		stopped:    make(chan struct{}),
	}
}

// SetSnapshot installs the loader used to greet new subscribers
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.snapshot = fn
}

// Run dispatches registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for jobID, clients := range h.clients {
				for client := range clients {
					close(client.done)
				}
				delete(h.clients, jobID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.logger.Debug("subscriber registered", zap.String("jobId", client.JobID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("subscriber unregistered", zap.String("jobId", client.JobID))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow subscriber, drop it
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.done)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Subscribers returns the number of clients watching jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
		close(client.done)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// BroadcastProgress announces a state or progress change of the job
func (h *Hub) BroadcastProgress(job *model.Job, step string) {
	h.send(job.ID, progressMessage(job, step))
}

// BroadcastComplete announces that the job is ready
func (h *Hub) BroadcastComplete(job *model.Job) {
	h.send(job.ID, completeMessage(job))
}

// BroadcastError announces a failure of the job
func (h *Hub) BroadcastError(job *model.Job, code string) {
	h.send(job.ID, errorMessage(job, code))
}

func (h *Hub) send(jobID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal push message", zap.String("jobId", jobID), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	case <-h.stopped:
	}
}

func progressMessage(job *model.Job, step string) model.WSProgressMessage {
	return model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       job.ID,
		Seq:         job.Seq,
		Kind:        job.Kind,
		State:       job.State,
		Progress:    job.Progress,
		CurrentStep: step,
	}
}

func completeMessage(job *model.Job) model.WSCompleteMessage {
	return model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  job.ID,
		Seq:    job.Seq,
		Kind:   job.Kind,
		Result: job.RawResult,
	}
}

func errorMessage(job *model.Job, code string) model.WSErrorMessage {
	return model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: job.ID,
		Seq:   job.Seq,
		Kind:  job.Kind,
		Error: model.WSError{Code: code, Message: job.Error},
	}
}

// CurrentMessage renders the job's present state as the message a late
// subscriber would have received last
func CurrentMessage(job *model.Job) any {
	switch job.State {
	case model.JobStateReady:
		return completeMessage(job)
	case model.JobStateFailed:
		return errorMessage(job, "JOB_FAILED")
	default:
		return progressMessage(job, "")
	}
}

// HandleConnection serves one subscriber until it disconnects
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
		done:  make(chan struct{}),
	}

	h.Register(client)

	writerDone := make(chan struct{})
	defer func() {
		h.Unregister(client)
		<-writerDone
	}()

	if h.snapshot != nil {
		if job, err := h.snapshot(context.Background(), jobID); err == nil {
			if data, err := json.Marshal(CurrentMessage(job)); err == nil {
				client.offer(data)
			}
		}
	}

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-client.done:
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("jobId", jobID), zap.Error(err))
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.offer(data)
		}
	}
}
