// Package app wires the services shared by the ops server and the lambdas.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/chris/shard-rewards/pkg/campaigns"
	"github.com/chris/shard-rewards/pkg/config"
	"github.com/chris/shard-rewards/pkg/ledger"
	"github.com/chris/shard-rewards/pkg/notify"
	"github.com/chris/shard-rewards/pkg/posters"
	"github.com/chris/shard-rewards/pkg/qrcode"
	"github.com/chris/shard-rewards/pkg/quota"
	"github.com/chris/shard-rewards/pkg/reconcile"
	"github.com/chris/shard-rewards/pkg/referrals"
	"github.com/chris/shard-rewards/pkg/scheduler"
	"github.com/chris/shard-rewards/pkg/storage"
	dydbstore "github.com/chris/shard-rewards/pkg/storage/dynamodb"
	"github.com/chris/shard-rewards/pkg/storage/sqlstore"
	"github.com/chris/shard-rewards/pkg/verification"
	"github.com/chris/shard-rewards/pkg/websockets"
)

// App holds the wired services.
type App struct {
	Config    *config.Config
	Store     *sqlstore.Store
	Ledger    *ledger.Ledger
	Quota     *quota.Calculator
	Posters   *posters.Service
	Referrals *referrals.Service
	Verifier  *verification.Orchestrator
	Notifier  notify.Notifier
	Scheduler scheduler.Scheduler

	// Hub is set when push delivery runs in-process instead of through API Gateway.
	Hub *websockets.LocalHub
	// Connections is the DynamoDB connection registry, when configured.
	Connections *dydbstore.Store

	aws     *aws.Config
	closers []func() error
}

// New opens the database, seeds the campaign catalog when one is
// configured and wires every service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	db, err := sqlstore.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Store: sqlstore.New(db)}
	a.closers = append(a.closers, a.Store.Close)

	if cfg.CampaignsFile != "" {
		catalog, err := campaigns.LoadCatalog(cfg.CampaignsFile)
		if err != nil {
			return nil, errors.Join(err, a.Close())
		}
		if err := campaigns.Seed(ctx, a.Store, catalog); err != nil {
			return nil, errors.Join(err, a.Close())
		}
	}

	if err := a.wireNotifier(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}

	a.Ledger = ledger.New(a.Store)
	a.Quota = quota.New(cfg.WeekTimezone, time.Now)
	a.Posters = posters.NewService(a.Store, a.Quota, a.Notifier, time.Now)
	a.Referrals = referrals.NewService(a.Store, a.Notifier, time.Now)
	decoder := qrcode.NewClient(cfg.QRReaderURL, cfg.QRReaderAdminKey, cfg.QRReaderTimeout)
	a.Verifier = verification.New(a.Posters, a.Store, decoder, a.Notifier, cfg.QRReaderTimeout, time.Now)

	if err := a.wireScheduler(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func (a *App) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	a.aws = &cfg
	return cfg, nil
}

// wireNotifier always logs, publishes to Kafka when brokers are set and
// pushes over websockets either through API Gateway or an in-process hub.
func (a *App) wireNotifier(ctx context.Context) error {
	cfg := a.Config
	multi := notify.Multi{notify.LogNotifier{}}

	if len(cfg.KafkaBrokers) > 0 {
		writer := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaNotificationsTopic)
		kafkaNotifier := notify.NewKafkaNotifier(writer)
		a.closers = append(a.closers, kafkaNotifier.Close)
		multi = append(multi, kafkaNotifier)
	}

	if cfg.RequireWebsockets() == nil {
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return err
		}
		a.Connections = dydbstore.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBConnectionsTableName)
		publisher, err := websockets.NewPublisher(ctx, a.Connections, a.Connections, cfg.WebsocketAPIEndpoint)
		if err != nil {
			return err
		}
		multi = append(multi, notify.NewWebSocketNotifier(publisher))
	} else {
		a.Hub = websockets.NewLocalHub()
		multi = append(multi, notify.NewWebSocketNotifier(a.Hub))
	}

	a.Notifier = multi
	return nil
}

// wireScheduler queues jobs on SQS when a queue is configured and
// otherwise runs them inline.
func (a *App) wireScheduler(ctx context.Context) error {
	if a.Config.RequireQueue() != nil {
		slog.InfoContext(ctx, "no verification queue configured, running jobs inline")
		a.Scheduler = &scheduler.InlineScheduler{Runner: scheduler.RunnerFunc(a.RunJob)}
		return nil
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return err
	}
	a.Scheduler = scheduler.NewSQSScheduler(sqs.NewFromConfig(awsCfg), a.Config.SQSQueueURL)
	return nil
}

// RunJob auto-verifies the job's poster. A poster that no longer exists
// is logged and dropped so the job is not retried.
func (a *App) RunJob(ctx context.Context, job scheduler.Job) error {
	res, err := a.Verifier.Verify(ctx, job.PosterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.WarnContext(ctx, "dropping verification job for missing poster", "poster_id", job.PosterID)
			return nil
		}
		return fmt.Errorf("failed to verify poster %d: %w", job.PosterID, err)
	}
	slog.InfoContext(ctx, "verification job finished", "poster_id", job.PosterID, "reason", job.Reason, "outcome", res.Outcome)
	return nil
}

// Reconciler builds the consistency pass over the wired store and scheduler.
func (a *App) Reconciler(repair bool) *reconcile.Reconciler {
	return reconcile.New(a.Store, a.Scheduler, reconcile.Options{
		Repair:         repair,
		StuckThreshold: a.Config.StuckPosterThreshold,
	})
}

// Close releases the database and the Kafka writer.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
