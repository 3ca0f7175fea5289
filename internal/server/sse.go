package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"freshcheck/internal/domain"
	"freshcheck/internal/engine"
)

const sseKeepAlive = 15 * time.Second

// SSEEvent is one server-sent event frame.
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans terminal run summaries out to stream subscribers. It is registered as an
// engine observer.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[chan SSEEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[chan SSEEvent]struct{})}
}

// Subscribe returns a channel that receives the run's terminal event. The channel
// is buffered so Broadcast never blocks on a slow reader.
func (h *Hub) Subscribe(runID string) chan SSEEvent {
	ch := make(chan SSEEvent, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[runID] == nil {
		h.clients[runID] = make(map[chan SSEEvent]struct{})
	}
	h.clients[runID][ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(runID string, ch chan SSEEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.clients[runID]
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.clients, runID)
	}
}

// Broadcast delivers evt to every subscriber of runID.
func (h *Hub) Broadcast(runID string, evt SSEEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients[runID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[runID])
}

func (h *Hub) RunStarted(domain.AnalysisRun) {}

func (h *Hub) RunFinished(run domain.AnalysisRun) {
	h.Broadcast(run.ID, SSEEvent{Type: "run." + run.Status, Data: runStreamEvent(run)})
}

func (h *Hub) IssueUpdated(string, domain.Issue) {}

var _ engine.Observer = (*Hub)(nil)

func writeSSE(w http.ResponseWriter, evt SSEEvent) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// registerRunStream serves GET {base}/analysis/runs/{id}/events. The stream sends the
// current status, then the terminal summary once the run finishes, then closes.
func registerRunStream(r chi.Router, basePath string, e engine.Engine, hub *Hub) {
	r.Get(basePath+"/analysis/runs/{id}/events", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		runID := chi.URLParam(req, "id")
		if _, ok := w.(http.Flusher); !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming not supported", nil))
			return
		}

		// Subscribe before reading the run so a completion in between is not missed.
		ch := hub.Subscribe(runID)
		defer hub.Unsubscribe(runID, ch)

		run, err := e.GetRun(ctx, userID, runID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if run.Terminal() {
			_ = writeSSE(w, SSEEvent{Type: "run." + run.Status, Data: runStreamEvent(run)})
			return
		}
		if err := writeSSE(w, SSEEvent{Type: "run.status", Data: runStreamEvent(run)}); err != nil {
			return
		}

		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case evt := <-ch:
				_ = writeSSE(w, evt)
				return
			}
		}
	})
}
