package scheduler

import (
	"context"
	"time"
)

// Job asks for one poster's proof to be auto-verified.
type Job struct {
	PosterID   uint      `json:"poster_id"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Job reasons.
const (
	ReasonProofUploaded = "proof_uploaded"
	ReasonStuck         = "stuck"
	ReasonManual        = "manual"
)

// Scheduler defines the interface for a component that schedules a verification for later processing.
type Scheduler interface {
	// ScheduleVerification enqueues a job for asynchronous processing.
	ScheduleVerification(ctx context.Context, job Job) error
}

// Runner processes a job in-process.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job Job) error { return f(ctx, job) }

// InlineScheduler runs jobs immediately instead of queueing them. It backs
// local development where no queue is configured.
type InlineScheduler struct {
	Runner Runner
}

var _ Scheduler = (*InlineScheduler)(nil)

// ScheduleVerification runs the job on the caller's goroutine.
func (s *InlineScheduler) ScheduleVerification(ctx context.Context, job Job) error {
	return s.Runner.Run(ctx, job)
}
