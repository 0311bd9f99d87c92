// Package reconcile is the scheduled consistency pass: every cached balance
// must equal the sum of the user's ledger entries, denormalized counters are
// rebuilt by recount, and proofs whose verification job was lost are queued
// again.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chris/shard-rewards/pkg/ledger"
	"github.com/chris/shard-rewards/pkg/models"
	"github.com/chris/shard-rewards/pkg/scheduler"
	"github.com/chris/shard-rewards/pkg/storage"
)

// DefaultStuckThreshold is how long a pending proof may wait for verification.
const DefaultStuckThreshold = 20 * time.Minute

const defaultConcurrency = 8

// Options tune a Reconciler.
type Options struct {
	// Repair rewrites drifted balances from the ledger.
	Repair         bool
	StuckThreshold time.Duration
	Concurrency    int
	Now            func() time.Time
}

// Reconciler runs the consistency pass.
type Reconciler struct {
	store     storage.Store
	ledger    *ledger.Ledger
	scheduler scheduler.Scheduler
	opts      Options
}

// New creates a Reconciler. A nil scheduler skips re-enqueueing.
func New(store storage.Store, sched scheduler.Scheduler, opts Options) *Reconciler {
	if opts.StuckThreshold <= 0 {
		opts.StuckThreshold = DefaultStuckThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{store: store, ledger: ledger.New(store), scheduler: sched, opts: opts}
}

// Report summarizes one pass.
type Report struct {
	UsersChecked  int                  `json:"users_checked"`
	Discrepancies []ledger.Discrepancy `json:"discrepancies"`
	Requeued      []uint               `json:"requeued"`
	RequeueErrors int                  `json:"requeue_errors"`
}

// Run audits every user and re-enqueues stuck posters. A failing re-enqueue
// does not stop the batch.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	if err := r.audit(ctx, report); err != nil {
		return report, err
	}
	if err := r.requeue(ctx, report); err != nil {
		return report, err
	}
	slog.InfoContext(ctx, "reconciliation finished",
		"users", report.UsersChecked,
		"discrepancies", len(report.Discrepancies),
		"requeued", len(report.Requeued),
		"requeue_errors", report.RequeueErrors)
	return report, nil
}

func (r *Reconciler) audit(ctx context.Context, report *Report) error {
	ids, err := r.store.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	report.UsersChecked = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, id := range ids {
		id := id // per-iteration copy (go directive is 1.21)
		g.Go(func() error {
			found, err := r.ledger.Audit(gctx, id, r.opts.Repair)
			if err != nil {
				return fmt.Errorf("failed to audit user %d: %w", id, err)
			}
			if err := r.recount(gctx, id); err != nil {
				return err
			}
			if found != nil {
				mu.Lock()
				report.Discrepancies = append(report.Discrepancies, *found)
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

// recount rebuilds the user's counters under the user row lock, the same
// lock the reward paths take before they recount.
func (r *Reconciler) recount(ctx context.Context, userID uint) error {
	return r.store.Transaction(ctx, func(tx storage.Repository) error {
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to lock user %d: %w", userID, err)
		}
		if _, err := tx.RecountPosters(ctx, userID); err != nil {
			return fmt.Errorf("failed to recount posters for user %d: %w", userID, err)
		}
		if _, err := tx.RecountReferrals(ctx, userID); err != nil {
			return fmt.Errorf("failed to recount referrals for user %d: %w", userID, err)
		}
		return nil
	})
}

func (r *Reconciler) requeue(ctx context.Context, report *Report) error {
	if r.scheduler == nil {
		return nil
	}
	cutoff := r.opts.Now().UTC().Add(-r.opts.StuckThreshold)
	stuck, err := r.store.ListPosters(ctx, storage.PosterQuery{
		Statuses:            []models.PosterStatus{models.PosterPending},
		ProofAttachedBefore: &cutoff,
	})
	if err != nil {
		return fmt.Errorf("failed to list stuck posters: %w", err)
	}
	if len(stuck) == 0 {
		slog.InfoContext(ctx, "no stuck posters found")
		return nil
	}

	slog.InfoContext(ctx, "re-enqueuing stuck posters", "count", len(stuck))
	for _, p := range stuck {
		if attemptedSinceUpload(&p) {
			continue
		}
		job := scheduler.Job{PosterID: p.ID, Reason: scheduler.ReasonStuck, EnqueuedAt: r.opts.Now().UTC()}
		if err := r.scheduler.ScheduleVerification(ctx, job); err != nil {
			slog.ErrorContext(ctx, "failed to re-enqueue poster", "poster_id", p.ID, "error", err)
			report.RequeueErrors++
			continue
		}
		report.Requeued = append(report.Requeued, p.ID)
	}
	return nil
}

// attemptedSinceUpload reports whether auto-verification already ran on the
// current proof. The source of an auto-match stays pending with its proof.
// A wrong-group conflict writes nothing, so it is retried and reported again.
func attemptedSinceUpload(p *models.Poster) bool {
	raw := p.Metadata.String(models.MetaAutoVerificationAttemptedAt)
	if raw == "" || p.ProofAttachedAt == nil {
		return false
	}
	attempted, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return !attempted.Before(p.ProofAttachedAt.Truncate(time.Second))
}
