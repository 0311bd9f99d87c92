package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris/shard-rewards/pkg/handlers"
	"github.com/chris/shard-rewards/pkg/ledger"
	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/quota"
	"github.com/chris/shard-rewards/pkg/reconcile"
	scheduler_mocks "github.com/chris/shard-rewards/pkg/scheduler/mocks"
	"github.com/chris/shard-rewards/pkg/storage/sqlstore"
	"github.com/chris/shard-rewards/pkg/storage/sqlstore/sqlitetest"
)

type failingStore struct {
	*sqlstore.Store
}

func (failingStore) Ping(context.Context) error { return errors.New("connection refused") }

func newRouter(t *testing.T, store handlers.Store, sqlite *sqlstore.Store, ws http.Handler) http.Handler {
	t.Helper()
	return handlers.NewRouter(handlers.Deps{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:      store,
		Ledger:     ledger.New(sqlite),
		Quota:      quota.New(time.UTC, time.Now),
		Scheduler:  scheduler_mocks.NewScheduler(t),
		Reconciler: reconcile.New(sqlite, nil, reconcile.Options{}),
		Websockets: ws,
	})
}

func TestRouter(t *testing.T) {
	store := sqlitetest.New(t)
	user := sqlitetest.CreateUser(t, store)
	_, err := ledger.New(store).Credit(context.Background(), user.ID, 4, models.EntryAdminGrant, nil, "welcome")
	require.NoError(t, err)

	t.Run("Health", func(t *testing.T) {
		// Arrange
		router := newRouter(t, store, store, nil)

		// Act
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		// Assert
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	})

	t.Run("Health with database down", func(t *testing.T) {
		router := newRouter(t, failingStore{store}, store, nil)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("Ledger", func(t *testing.T) {
		router := newRouter(t, store, store, nil)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/users/%d/ledger", user.ID), nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"balance":4`)
	})

	t.Run("Reconcile", func(t *testing.T) {
		router := newRouter(t, store, store, nil)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reconcile", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var report reconcile.Report
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
		assert.Equal(t, 1, report.UsersChecked)
		assert.Empty(t, report.Discrepancies)
	})

	t.Run("Metrics", func(t *testing.T) {
		router := newRouter(t, store, store, nil)
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, strings.Contains(rr.Body.String(), "shards_http_requests_total"))
	})

	t.Run("Websockets mounted only when configured", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newRouter(t, store, store, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)

		ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
		rr = httptest.NewRecorder()
		newRouter(t, store, store, ws).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}
