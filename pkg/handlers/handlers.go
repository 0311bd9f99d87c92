package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ledgerhandler "github.com/chris/shard-rewards/pkg/handlers/ledger"
	postershandler "github.com/chris/shard-rewards/pkg/handlers/posters"
	quotahandler "github.com/chris/shard-rewards/pkg/handlers/quota"
	"github.com/chris/shard-rewards/pkg/middleware"
	"github.com/chris/shard-rewards/pkg/quota"
	"github.com/chris/shard-rewards/pkg/reconcile"
	"github.com/chris/shard-rewards/pkg/scheduler"
)

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Reconciler runs one audit and requeue pass.
type Reconciler interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// Store is the read access the ops endpoints need.
type Store interface {
	Pinger
	quota.Reader
	postershandler.PosterGetter
}

// Deps are the collaborators mounted by NewRouter. Websockets is optional.
type Deps struct {
	Logger     *slog.Logger
	Store      Store
	Ledger     ledgerhandler.Reader
	Quota      *quota.Calculator
	Scheduler  scheduler.Scheduler
	Reconciler Reconciler
	Websockets http.Handler
}

// NewRouter builds the ops HTTP surface.
func NewRouter(d Deps) http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.NewStructuredLogger(d.Logger))

	router.Get("/healthz", Health(d.Store))
	router.Handle("/metrics", promhttp.Handler())

	router.Get("/users/{userID}/ledger", ledgerhandler.NewLedgerHandler(d.Ledger).ListLedgerEntries)
	router.Get("/users/{userID}/quota", quotahandler.NewQuotaHandler(d.Quota, d.Store).GetQuota)
	router.Post("/posters/{posterID}/auto-verify", postershandler.NewVerificationHandler(d.Store, d.Scheduler).RequeueVerification)
	router.Post("/reconcile", Reconcile(d.Reconciler))

	if d.Websockets != nil {
		router.Handle("/ws", d.Websockets)
	}
	return router
}

// Health answers 200 when the database is reachable.
func Health(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Ping(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("Database unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// Reconcile runs a reconciliation pass and returns its report.
func Reconcile(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := rec.Run(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Reconciliation failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write response: %v", err), http.StatusInternalServerError)
		}
	}
}
