package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reelshelf/reelshelf-server/internal/http/response"
)

const (
	heartbeatInterval = 30 * time.Second
	writeDeadline     = 60 * time.Second
)

// Handler streams conversion events at GET /api/v1/conversions/events.
// The optional kinds query parameter is a comma-separated filter, e.g. ?kinds=progress,failed.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// ParseKinds parses a comma-separated kinds filter. Unknown kinds are reported as an error.
func ParseKinds(raw string) ([]EventType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var kinds []EventType
	for part := range strings.SplitSeq(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, ok := ParseEventType(part)
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", strings.TrimSpace(part))
		}
		kinds = append(kinds, t)
	}
	return kinds, nil
}

// ServeHTTP handles the SSE connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w, h.logger)
		return
	}

	// Early client disconnect.
	if r.Context().Err() != nil {
		return
	}

	kinds, err := ParseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeForStatus(http.StatusBadRequest), err.Error(), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)

	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Subscribe(kinds...)
	if err != nil {
		h.logger.Error("failed to register SSE client", slog.String("error", err.Error()))
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Unsubscribe(client.ID)

	clientLogger := h.logger.With(slog.String("client_id", client.ID))

	if err := h.sendEvent(w, rc, "connected", map[string]string{
		"client_id": client.ID,
		"message":   "SSE connection established",
	}); err != nil {
		clientLogger.Warn("failed to send initial connection message", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case event, ok := <-client.EventChan:
			if !ok {
				return
			}
			if err := h.sendEvent(w, rc, string(event.Type), event); err != nil {
				// Client disconnect is normal, not an error condition.
				clientLogger.Info("client disconnected during send")
				return
			}

		case <-heartbeatTicker.C:
			heartbeat := NewHeartbeatEvent()
			if err := h.sendEvent(w, rc, string(heartbeat.Type), heartbeat); err != nil {
				clientLogger.Info("client disconnected during heartbeat")
				return
			}

		case <-client.Done:
			// Manager closed this client (server shutdown).
			clientLogger.Info("client closed by manager")
			return

		case <-ctx.Done():
			clientLogger.Info("client context canceled")
			return
		}
	}
}

// sendEvent writes one SSE frame and flushes it.
func (h *Handler) sendEvent(w http.ResponseWriter, rc *http.ResponseController, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}

	if err := rc.Flush(); err != nil {
		return err
	}

	// Reset after each successful write so hung connections are eventually dropped.
	if err := rc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		// Not supported by every ResponseWriter (httptest.ResponseRecorder).
		h.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}

	return nil
}
