package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// readFrame reads one "event: ...\ndata: ...\n\n" frame.
func readFrame(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestHandler_StreamsFilteredEvents(t *testing.T) {
	m := startManager(t)
	srv := httptest.NewServer(NewHandler(m, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?kinds=failed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	event, _ := readFrame(t, r)
	assert.Equal(t, "connected", event)

	m.Emit(NewConversionProgressEvent(5, "e.mkv", 40))
	m.Emit(NewConversionFailedEvent(5, "e.mkv", "watchdog timeout after 10m0s"))

	event, data := readFrame(t, r)
	assert.Equal(t, string(EventConversionFailed), event)

	var got struct {
		Type   EventType                 `json:"type"`
		ItemID int64                     `json:"item_id"`
		Data   ConversionFailedEventData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, EventConversionFailed, got.Type)
	assert.Equal(t, int64(5), got.ItemID)
	assert.Equal(t, "watchdog timeout after 10m0s", got.Data.Error)
}

func TestHandler_RejectsUnknownKind(t *testing.T) {
	m := NewManager(nil)
	h := NewHandler(m, testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?kinds=progress,bogus", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, m.ClientCount())
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(NewManager(nil), testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_ClosedByManager(t *testing.T) {
	m := NewManager(nil)
	go m.Start(context.Background())

	srv := httptest.NewServer(NewHandler(m, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	event, _ := readFrame(t, r)
	assert.Equal(t, "connected", event)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	// The handler returns and the stream ends.
	_, err = r.ReadString('\n')
	assert.Error(t, err)
}
