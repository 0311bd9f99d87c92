// Package config loads process configuration from the environment, after
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/chris/shard-rewards/pkg/qrcode"
	"github.com/chris/shard-rewards/pkg/reconcile"
)

// Config is shared by the ops server and the lambdas. Each entry point
// checks the fields it needs with the Require helpers.
type Config struct {
	Env      string
	LogLevel string
	HTTPPort string

	DatabaseDriver string
	DatabaseURL    string

	QRReaderURL      string
	QRReaderAdminKey string
	QRReaderTimeout  time.Duration

	SQSQueueURL string

	KafkaBrokers            []string
	KafkaNotificationsTopic string

	WebsocketAPIEndpoint         string
	DynamoDBConnectionsTableName string

	WeekTimezone         *time.Location
	CampaignsFile        string
	StuckPosterThreshold time.Duration
	// ReconcileRepair rewrites drifted balances from the ledger.
	ReconcileRepair bool
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Env:                          get("APP_ENV", "development"),
		LogLevel:                     get("LOG_LEVEL", "info"),
		HTTPPort:                     get("HTTP_PORT", "8080"),
		DatabaseDriver:               strings.ToLower(get("DATABASE_DRIVER", "postgres")),
		DatabaseURL:                  get("DATABASE_URL", ""),
		QRReaderURL:                  get("QREADER_URL", "http://localhost:4445"),
		QRReaderAdminKey:             get("QREADER_ADMIN_KEY", ""),
		SQSQueueURL:                  get("SQS_QUEUE_URL", ""),
		KafkaNotificationsTopic:      get("KAFKA_NOTIFICATIONS_TOPIC", "shard-notifications"),
		WebsocketAPIEndpoint:         get("WEBSOCKET_API_ENDPOINT", ""),
		DynamoDBConnectionsTableName: get("DYNAMODB_CONNECTIONS_TABLE_NAME", ""),
		CampaignsFile:                get("CAMPAIGNS_FILE", ""),
	}

	var errs []error
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", cfg.DatabaseDriver))
	}
	if cfg.DatabaseDriver == "sqlite" && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "file:shard-rewards.db"
	}

	for _, b := range strings.Split(get("KAFKA_BROKERS", ""), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var err error
	if cfg.QRReaderTimeout, err = duration(get("QREADER_TIMEOUT", ""), qrcode.DefaultTimeout); err != nil {
		errs = append(errs, fmt.Errorf("QREADER_TIMEOUT: %w", err))
	} else if cfg.QRReaderTimeout > qrcode.DefaultTimeout {
		errs = append(errs, fmt.Errorf("QREADER_TIMEOUT must be at most %s", qrcode.DefaultTimeout))
	}
	if cfg.StuckPosterThreshold, err = duration(get("STUCK_POSTER_THRESHOLD", ""), reconcile.DefaultStuckThreshold); err != nil {
		errs = append(errs, fmt.Errorf("STUCK_POSTER_THRESHOLD: %w", err))
	}
	if cfg.ReconcileRepair, err = strconv.ParseBool(get("RECONCILE_REPAIR", "false")); err != nil {
		errs = append(errs, fmt.Errorf("RECONCILE_REPAIR: %w", err))
	}
	if cfg.WeekTimezone, err = time.LoadLocation(get("WEEK_TIMEZONE", "UTC")); err != nil {
		errs = append(errs, fmt.Errorf("WEEK_TIMEZONE: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func duration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}

// RequireDatabase fails when no database is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable not set")
	}
	return nil
}

// RequireQueue fails when no verification queue is configured.
func (c *Config) RequireQueue() error {
	if c.SQSQueueURL == "" {
		return errors.New("SQS_QUEUE_URL environment variable not set")
	}
	return nil
}

// RequireWebsockets fails when push delivery is not configured.
func (c *Config) RequireWebsockets() error {
	if c.WebsocketAPIEndpoint == "" || c.DynamoDBConnectionsTableName == "" {
		return errors.New("WEBSOCKET_API_ENDPOINT and DYNAMODB_CONNECTIONS_TABLE_NAME must both be set")
	}
	return nil
}
