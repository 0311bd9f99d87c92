package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"
)

const defaultBatchConcurrency = 4

// Consumer runs queued verification jobs delivered in SQS batches.
type Consumer struct {
	Runner      Runner
	Concurrency int
}

// HandleBatch runs every job in the batch and reports the messages that
// should be retried. Undecodable messages are logged and dropped since a
// retry cannot fix them.
func (c *Consumer) HandleBatch(ctx context.Context, event events.SQSEvent) events.SQSEventResponse {
	limit := c.Concurrency
	if limit <= 0 {
		limit = defaultBatchConcurrency
	}

	var (
		mu       sync.Mutex
		failures []events.SQSBatchItemFailure
	)
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, message := range event.Records {
		message := message // per-iteration copy (go directive is 1.21)
		g.Go(func() error {
			job, err := DecodeJob(message.Body)
			if err != nil {
				slog.ErrorContext(ctx, "dropping malformed verification job", "message_id", message.MessageId, "error", err)
				return nil
			}
			if err := c.Runner.Run(ctx, job); err != nil {
				slog.ErrorContext(ctx, "verification job failed", "message_id", message.MessageId, "poster_id", job.PosterID, "error", err)
				mu.Lock()
				failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return events.SQSEventResponse{BatchItemFailures: failures}
}
