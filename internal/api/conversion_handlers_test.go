package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/domain"
	"github.com/reelshelf/reelshelf-server/internal/service"
)

func decodeError(t *testing.T, resp interface{ Result() *http.Response }) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.NewDecoder(resp.Result().Body).Decode(&apiErr))
	return apiErr
}

func decodeBody[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

// waitConverted polls the item endpoint until a converted output is reported.
func waitConverted(t *testing.T, api humatest.TestAPI, id string) ItemConversionResponse {
	t.Helper()
	var got ItemConversionResponse
	require.Eventually(t, func() bool {
		resp := api.Get("/api/v1/items/" + id + "/conversion")
		if resp.Code != http.StatusOK {
			return false
		}
		got = decodeBody[ItemConversionResponse](t, resp.Body.Bytes())
		return got.Converted
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestRequestConversion_Accepted(t *testing.T) {
	ts := setupTestServer(t)
	ts.addItem(t, 1, "hevc", "ac3")

	resp := ts.api.Post("/api/v1/items/1/conversion")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t,
		service.AdmissionResult{Accepted: true, Message: service.AdmissionQueued},
		decodeBody[service.AdmissionResult](t, resp.Body.Bytes()))

	got := waitConverted(t, ts.api, "1")
	assert.Equal(t, filepath.Join(ts.cache, "1.mp4"), got.Path)
	require.NotNil(t, got.Job)
	assert.Equal(t, domain.ConversionStatusCompleted, got.Job.Status)
	assert.Equal(t, 100, got.Job.Progress)

	// A second request is a normal rejection, not an error.
	resp = ts.api.Post("/api/v1/items/1/conversion")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t,
		service.AdmissionResult{Accepted: false, Message: service.AdmissionAlreadyConverted},
		decodeBody[service.AdmissionResult](t, resp.Body.Bytes()))
}

func TestRequestConversion_AlreadyQueued(t *testing.T) {
	ts := setupTestServer(t)
	release := ts.encoder.hold()
	defer release()
	ts.addItem(t, 2, "hevc", "aac")

	require.Equal(t, http.StatusOK, ts.api.Post("/api/v1/items/2/conversion").Code)

	resp := ts.api.Post("/api/v1/items/2/conversion")
	assert.Equal(t,
		service.AdmissionResult{Accepted: false, Message: service.AdmissionAlreadyQueued},
		decodeBody[service.AdmissionResult](t, resp.Body.Bytes()))
}

func TestRequestConversion_Errors(t *testing.T) {
	tests := []struct {
		name       string
		opts       []serverOption
		path       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown item",
			path:       "/api/v1/items/404/conversion",
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "disabled by config",
			opts:       []serverOption{withConvertConfig(func(c *config.ConvertConfig) { c.Enabled = false })},
			path:       "/api/v1/items/1/conversion",
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "UNAVAILABLE",
		},
		{
			name:       "no encoder",
			opts:       []serverOption{withoutEncoder()},
			path:       "/api/v1/items/1/conversion",
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "UNAVAILABLE",
		},
		{
			name:       "invalid id",
			path:       "/api/v1/items/0/conversion",
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t, tt.opts...)
			ts.addItem(t, 1, "hevc", "ac3")

			resp := ts.api.Post(tt.path)
			assert.Equal(t, tt.wantStatus, resp.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, resp).Code)
		})
	}
}

func TestCancelConversion(t *testing.T) {
	ts := setupTestServer(t)
	release := ts.encoder.hold()
	defer release()
	ts.addItem(t, 1, "hevc", "ac3")
	ts.addItem(t, 2, "hevc", "ac3")

	ts.api.Post("/api/v1/items/1/conversion")
	ts.api.Post("/api/v1/items/2/conversion")

	// Item 2 is pending behind item 1.
	resp := ts.api.Delete("/api/v1/items/2/conversion")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decodeBody[CancelConversionResponse](t, resp.Body.Bytes()).Cancelled)

	// Item 1 is active; cancel kills it and waits for cleanup.
	resp = ts.api.Delete("/api/v1/items/1/conversion")
	assert.True(t, decodeBody[CancelConversionResponse](t, resp.Body.Bytes()).Cancelled)

	resp = ts.api.Delete("/api/v1/items/1/conversion")
	assert.False(t, decodeBody[CancelConversionResponse](t, resp.Body.Bytes()).Cancelled)

	status := decodeBody[service.ConversionStatus](t, ts.api.Get("/api/v1/conversions").Body.Bytes())
	assert.Equal(t, 0, status.TotalInFlight)
}

func TestDismissConversion(t *testing.T) {
	ts := setupTestServer(t)
	ts.encoder.fail(errors.New("exit status 1"))
	ts.addItem(t, 3, "hevc", "ac3")

	ts.api.Post("/api/v1/items/3/conversion")

	require.Eventually(t, func() bool {
		status := decodeBody[service.ConversionStatus](t, ts.api.Get("/api/v1/conversions").Body.Bytes())
		return len(status.Finished) == 1 && status.Finished[0].Status == domain.ConversionStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	resp := ts.api.Delete("/api/v1/items/3/conversion/failure")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decodeBody[DismissConversionResponse](t, resp.Body.Bytes()).Dismissed)

	resp = ts.api.Delete("/api/v1/items/3/conversion/failure")
	assert.False(t, decodeBody[DismissConversionResponse](t, resp.Body.Bytes()).Dismissed)

	status := decodeBody[service.ConversionStatus](t, ts.api.Get("/api/v1/conversions").Body.Bytes())
	assert.Empty(t, status.Finished)
}

func TestGetItemConversion_NotConverted(t *testing.T) {
	ts := setupTestServer(t)
	ts.addItem(t, 5, "h264", "aac")

	resp := ts.api.Get("/api/v1/items/5/conversion")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"converted":false}`, resp.Body.String())

	resp = ts.api.Get("/api/v1/items/99/conversion")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestConvertIncompatible(t *testing.T) {
	ts := setupTestServer(t)
	release := ts.encoder.hold()
	ts.addItem(t, 1, "hevc", "ac3")
	ts.addItem(t, 2, "h264", "aac")
	ts.addItem(t, 3, "mpeg2video", "mp2")

	resp := ts.api.Post("/api/v1/conversions/incompatible")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 2, decodeBody[ConvertIncompatibleResponse](t, resp.Body.Bytes()).QueuedCount)

	status := decodeBody[service.ConversionStatus](t, ts.api.Get("/api/v1/conversions").Body.Bytes())
	assert.Equal(t, 2, status.TotalInFlight)

	release()
	waitConverted(t, ts.api, "1")
	waitConverted(t, ts.api, "3")
}

func TestGetCacheStats(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(ts.cache, "7.mp4"), []byte("12345"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ts.cache, "8.mp4"), []byte("123"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ts.cache, "9.abc.tmp.mp4"), []byte("ignored"), 0o644))

	resp := ts.api.Get("/api/v1/conversions/cache")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"file_count":2,"total_size_bytes":8}`, resp.Body.String())
}
