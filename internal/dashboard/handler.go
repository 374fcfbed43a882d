package dashboard

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	enginesync "github.com/curlos/statly-backend-sub000/internal/sync"
)

// Handler formats engine lifecycle events as dashboard messages. It
// implements the engine's EventSink and bridges it to the WebSocket
// server. Broadcasts are fire-and-forget; the engine is never blocked
// by a slow dashboard client.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// RunStarted implements sync.EventSink.
func (h *Handler) RunStarted(userID, source, runID string) {
	h.broadcast(MessageTypeRunStarted, RunStartedData{
		RunID:  runID,
		UserID: userID,
		Source: source,
	})
}

// RunCompleted implements sync.EventSink.
func (h *Handler) RunCompleted(userID, source, runID string, report *enginesync.Report) {
	h.broadcast(MessageTypeRunCompleted, RunCompletedData{
		RunID:           runID,
		UserID:          userID,
		Source:          source,
		Duration:        report.Duration,
		TasksFetched:    report.TasksFetched,
		TasksCreated:    report.Tasks.Created,
		TasksModified:   report.Tasks.Modified,
		RecordsCreated:  report.Records.Created,
		RecordsModified: report.Records.Modified,
		RecordsPatched:  report.RecordsPatched,
		BrokenChains:    report.BrokenChains,
	})
}

// RunFailed implements sync.EventSink.
func (h *Handler) RunFailed(userID, source, runID string, err error) {
	kind := "internal"
	var adapterErr *enginesync.AdapterError
	switch {
	case errors.Is(err, enginesync.ErrSyncInProgress):
		kind = "conflict"
	case errors.As(err, &adapterErr):
		kind = "adapter"
	}

	h.broadcast(MessageTypeRunFailed, RunFailedData{
		RunID:  runID,
		UserID: userID,
		Source: source,
		Kind:   kind,
		Error:  err.Error(),
	})
}

func (h *Handler) broadcast(msgType MessageType, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s event: %v", msgType, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
