package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteOK(w, map[string]float64{"amount": 12.5}))

	var response struct {
		Data map[string]float64 `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 12.5, response.Data["amount"])
}

func TestWriteTooManyRequests(t *testing.T) {
	t.Run("sets header and body", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteTooManyRequests(w, "Slow down", 60))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))

		var body RateLimitResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, RateLimitResponse{Error: "rate_limit_exceeded", Message: "Slow down", RetryAfter: 60}, body)
	})

	t.Run("defaults", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteTooManyRequests(w, "", 0))

		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		var body RateLimitResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "Rate limit exceeded", body.Message)
		assert.Equal(t, 1, body.RetryAfter)
	})
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name          string
		write         func(w http.ResponseWriter) error
		expectedCode  int
		expectedError string
		expectedMsg   string
	}{
		{"bad request", func(w http.ResponseWriter) error { return WriteBadRequest(w, "bad", nil) }, http.StatusBadRequest, "bad_request", "bad"},
		{"unauthorized default", func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") }, http.StatusUnauthorized, "unauthorized", "Authentication required"},
		{"forbidden default", func(w http.ResponseWriter) error { return WriteForbidden(w, "") }, http.StatusForbidden, "forbidden", "Access forbidden"},
		{"not found", func(w http.ResponseWriter) error { return WriteNotFound(w, "no such provider") }, http.StatusNotFound, "not_found", "no such provider"},
		{"internal default", func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") }, http.StatusInternalServerError, "internal_error", "Internal server error"},
		{"bad gateway", func(w http.ResponseWriter) error { return WriteBadGateway(w, "") }, http.StatusBadGateway, "upstream_error", "Upstream service error"},
		{"unavailable", func(w http.ResponseWriter) error { return WriteServiceUnavailable(w, "") }, http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable"},
		{"unknown status", func(w http.ResponseWriter) error { return WriteError(w, http.StatusTeapot, "tea", nil) }, http.StatusTeapot, "internal_error", "tea"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.expectedCode, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
			assert.Equal(t, tt.expectedMsg, response.Message)
		})
	}
}

func TestWriteBadRequest_Details(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteBadRequest(w, "Validation failed", map[string]interface{}{"country": "country is required"}))

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "country is required", response.Details["country"])
}
