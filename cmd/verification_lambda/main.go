package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/chris/shard-rewards/pkg/app"
	"github.com/chris/shard-rewards/pkg/config"
	"github.com/chris/shard-rewards/pkg/logging"
	"github.com/chris/shard-rewards/pkg/scheduler"
)

var consumer *scheduler.Consumer

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logging.Setup("shard-rewards-verification", cfg.Env, cfg.LogLevel)

	// Initialize dependencies once per container.
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	consumer = &scheduler.Consumer{Runner: scheduler.RunnerFunc(a.RunJob)}
}

// HandleRequest auto-verifies the posters named by an SQS batch. Failed
// jobs are reported individually so only they are redelivered.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	return consumer.HandleBatch(ctx, sqsEvent), nil
}

func main() {
	lambda.Start(HandleRequest)
}
