package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris/shard-rewards/pkg/metrics"
	"github.com/chris/shard-rewards/pkg/middleware"
)

func TestStructuredLogger(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(logger))
	router.Get("/users/{userID}/quota", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	counter := metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/users/{userID}/quota", "418")
	before := testutil.ToFloat64(counter)

	t.Run("Logs route pattern and counts", func(t *testing.T) {
		buf.Reset()

		// Act
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/7/quota", nil))

		// Assert
		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "request completed", line["msg"])
		request := line["request"].(map[string]any)
		assert.Equal(t, "/users/7/quota", request["path"])
		assert.Equal(t, "/users/{userID}/quota", request["route"])
		assert.Equal(t, before+1, testutil.ToFloat64(counter))
	})

	t.Run("Server errors log at error level", func(t *testing.T) {
		buf.Reset()

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "ERROR", line["level"])
		assert.Equal(t, "server error", line["msg"])
	})
}
