package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/chris/shard-rewards/pkg/app"
	"github.com/chris/shard-rewards/pkg/config"
	"github.com/chris/shard-rewards/pkg/logging"
	"github.com/chris/shard-rewards/pkg/reconcile"
)

var reconciler *reconcile.Reconciler

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := cfg.RequireQueue(); err != nil {
		log.Fatal(err)
	}
	logging.Setup("shard-rewards-reconciliation", cfg.Env, cfg.LogLevel)

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	reconciler = a.Reconciler(cfg.ReconcileRepair)
}

// HandleRequest is triggered by an EventBridge Schedule.
func HandleRequest(ctx context.Context) (*reconcile.Report, error) {
	slog.InfoContext(ctx, "starting reconciliation")
	report, err := reconciler.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "reconciliation failed", "error", err)
		return report, err
	}
	return report, nil
}

func main() {
	lambda.Start(HandleRequest)
}
