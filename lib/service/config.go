package service

import (
	"time"

	"github.com/homechain/escrowhub/db"
)

type Config struct {
	db.Config
	SentryDSN                      string        `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate         float64       `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath                    string        `envconfig:"LOG_FILE_PATH"`
	AuditLogFilePath               string        `envconfig:"AUDIT_LOG_FILE_PATH"`
	JWTSecret                      []byte        `envconfig:"JWT_SECRET" required:"true"`
	JWTAccessTokenExpiry           int           `envconfig:"JWT_ACCESS_EXPIRY" default:"172800"` // in seconds, default 2 days
	AdminToken                     string        `envconfig:"ADMIN_TOKEN"`
	Host                           string        `envconfig:"HOST" default:"localhost:3000"`
	Port                           int           `envconfig:"PORT" default:"3000"`
	DefaultRateLimit               int           `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit                int           `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit                 int           `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus               bool          `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort                 int           `envconfig:"PROMETHEUS_PORT" default:"9092"`
	RabbitMQUri                    string        `envconfig:"RABBITMQ_URI"`
	RabbitMQEventExchange          string        `envconfig:"RABBITMQ_EVENT_EXCHANGE" default:"escrowhub_events"`
	RabbitMQSettlementExchange     string        `envconfig:"RABBITMQ_SETTLEMENT_EXCHANGE" default:"settlement_events"`
	RabbitMQSettlementConsumerName string        `envconfig:"RABBITMQ_SETTLEMENT_CONSUMER_QUEUE_NAME" default:"escrowhub_settlement_consumer"`
	BaseCurrency                   string        `envconfig:"BASE_CURRENCY" default:"USD"`
	WithdrawalMinimum              int64         `envconfig:"WITHDRAWAL_MINIMUM" default:"100"` // minor units, default 1.00
	FeeScheduleFile                string        `envconfig:"FEE_SCHEDULE_FILE"`
	ReconcileInterval              time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
	ReconcilePendingAfter          time.Duration `envconfig:"RECONCILE_PENDING_AFTER" default:"10m"`
	ReconcileInFlightAfter         time.Duration `envconfig:"RECONCILE_IN_FLIGHT_AFTER" default:"2m"`
	ReconcileMaxAttempts           int           `envconfig:"RECONCILE_MAX_ATTEMPTS" default:"5"`
	ReconcileBatchSize             int           `envconfig:"RECONCILE_BATCH_SIZE" default:"100"`
	MaxConflictRetries             int           `envconfig:"MAX_CONFLICT_RETRIES" default:"5"`
}
