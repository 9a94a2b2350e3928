package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

// JobWatcher is the job-lookup surface the stream polls.
type JobWatcher interface {
	GetJob(ctx context.Context, jobID, owner string) (*models.Job, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every message on the job stream.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// watchRequest is the single client-to-server message: which job to follow.
type watchRequest struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// jobSnapshot is one server-to-client status frame. LogDelta carries only
// the output appended since the previous frame.
type jobSnapshot struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	LogDelta string `json:"log_delta,omitempty"`
	Terminal bool   `json:"terminal"`
}

// WebSocketHandler streams live job output to connected clients and
// broadcasts lifecycle transitions to every connection. A watch follows
// exactly one job and self-terminates when the job reaches a terminal state
// or the watch ceiling passes.
type WebSocketHandler struct {
	jobs   JobWatcher
	cfg    *common.WebSocketConfig
	logger arbor.ILogger

	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(jobs JobWatcher, cfg *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		jobs:        jobs,
		cfg:         cfg,
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// SubscribeToJobEvents broadcasts job lifecycle transitions to all connected
// clients, alongside any per-job watches they hold.
func (h *WebSocketHandler) SubscribeToJobEvents(eventService interfaces.EventService) error {
	handler := func(ctx context.Context, event interfaces.Event) error {
		job, ok := event.Payload.(*models.Job)
		if !ok {
			return nil
		}
		h.broadcast(WSMessage{
			Type: string(event.Type),
			Payload: jobSnapshot{
				JobID:    job.ID,
				Status:   string(job.Status),
				Terminal: job.IsTerminal(),
			},
		})
		return nil
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobStarted,
		interfaces.EventJobCompleted,
	} {
		if err := eventService.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

// WatchJobHandler upgrades the connection and streams job progress.
// GET /ws (client sends {"type":"watch_job","job_id":"..."})
func (h *WebSocketHandler) WatchJobHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer h.unregister(conn)

	h.register(conn)

	owner := OwnerFromRequest(r)

	var req watchRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to read watch request")
		return
	}
	if req.Type != "watch_job" || req.JobID == "" {
		h.writeConn(conn, WSMessage{Type: "error", Payload: "expected watch_job message with job_id"})
		return
	}

	h.logger.Debug().
		Str("job_id", req.JobID).
		Str("remote", r.RemoteAddr).
		Msg("Job watch started")

	h.streamJob(r.Context(), conn, req.JobID, owner)
}

func (h *WebSocketHandler) streamJob(ctx context.Context, conn *websocket.Conn, jobID, owner string) {
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(h.cfg.MaxWatch)
	defer deadline.Stop()

	sent := 0
	for {
		job, err := h.jobs.GetJob(ctx, jobID, owner)
		if err != nil {
			h.writeConn(conn, WSMessage{Type: "error", Payload: "job not found"})
			return
		}

		snapshot := jobSnapshot{
			JobID:    job.ID,
			Status:   string(job.Status),
			Terminal: job.IsTerminal(),
		}
		if len(job.OutputLog) > sent {
			snapshot.LogDelta = job.OutputLog[sent:]
			sent = len(job.OutputLog)
		}

		if err := h.writeConn(conn, WSMessage{Type: "job_update", Payload: snapshot}); err != nil {
			h.logger.Debug().Err(err).Str("job_id", jobID).Msg("Watch client disconnected")
			return
		}

		if job.IsTerminal() {
			h.writeConn(conn, WSMessage{Type: "watch_done", Payload: snapshot})
			return
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			h.writeConn(conn, WSMessage{Type: "watch_timeout", Payload: snapshot})
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
}

func (h *WebSocketHandler) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	h.mu.Unlock()
	conn.Close()
}

// writeConn serializes writes per connection: the watch loop and lifecycle
// broadcasts share each socket.
func (h *WebSocketHandler) writeConn(conn *websocket.Conn, msg WSMessage) error {
	h.mu.RLock()
	lock := h.clientMutex[conn]
	h.mu.RUnlock()
	if lock == nil {
		return websocket.ErrCloseSent
	}

	lock.Lock()
	defer lock.Unlock()
	return conn.WriteJSON(msg)
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := h.writeConn(conn, msg); err != nil {
			h.logger.Debug().Err(err).Msg("Broadcast write failed - dropping client")
			h.unregister(conn)
		}
	}
}
