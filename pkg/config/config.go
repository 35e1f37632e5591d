package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrNoServiceCredentials = errors.New("service auth is enabled without credentials")

type Config struct {
	HTTP     HTTP
	Logger   Logger
	Postgres Postgres
	Kafka    Kafka
	Redis    Redis
	Razorpay Razorpay
	Payments Payments
	Webhook  Webhook
	Jobs     Jobs
}

type HTTP struct {
	Port        int    `env:"HTTP_PORT" envDefault:"8080"`
	AuthEnabled bool   `env:"HTTP_AUTH_ENABLED" envDefault:"true"`
	APIKey      string `env:"HTTP_API_KEY" envDefault:""`
	JWTSecret   string `env:"HTTP_JWT_SECRET" envDefault:""`
}

type Logger struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type Postgres struct {
	DSN     string `env:"POSTGRES_DSN"`
	MaxConn int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
}

type Kafka struct {
	Brokers      []string `env:"KAFKA_BROKERS"`
	LedgerTopic  string   `env:"KAFKA_LEDGER_TOPIC" envDefault:"billing.ledger-updated"`
	WebhookTopic string   `env:"KAFKA_WEBHOOK_TOPIC" envDefault:"billing.razorpay-webhooks"`
	RetryTopic   string   `env:"KAFKA_WEBHOOK_RETRY_TOPIC" envDefault:"billing.razorpay-webhooks.retry"`
	DLQTopic     string   `env:"KAFKA_WEBHOOK_DLQ_TOPIC" envDefault:"billing.razorpay-webhooks.dlq"`
	GroupID      string   `env:"KAFKA_GROUP_ID" envDefault:"billing"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:""` // Empty disables the webhook dedup window.
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type Razorpay struct {
	BaseURL       string        `env:"RAZORPAY_BASE_URL" envDefault:"https://api.razorpay.com/v1"`
	KeyID         string        `env:"RAZORPAY_KEY_ID"`
	KeySecret     string        `env:"RAZORPAY_KEY_SECRET"`
	WebhookSecret string        `env:"RAZORPAY_WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"RAZORPAY_TIMEOUT" envDefault:"10s"`
	FetchRetries  int           `env:"RAZORPAY_FETCH_RETRIES" envDefault:"2"`
}

type Payments struct {
	AllowOverpayment    bool          `env:"PAYMENTS_ALLOW_OVERPAYMENT" envDefault:"false"`
	CreateOrderAttempts uint64        `env:"PAYMENTS_CREATE_ORDER_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay      time.Duration `env:"PAYMENTS_RETRY_BASE_DELAY" envDefault:"500ms"`
	PendingOrderAge     time.Duration `env:"PAYMENTS_PENDING_ORDER_AGE" envDefault:"15m"`
	ReconcileWindow     time.Duration `env:"PAYMENTS_RECONCILE_WINDOW" envDefault:"24h"`
	OrderTTL            time.Duration `env:"PAYMENTS_ORDER_TTL" envDefault:"168h"`
}

type Webhook struct {
	AsyncEnabled    bool          `env:"WEBHOOK_ASYNC_ENABLED" envDefault:"false"`
	DedupTTL        time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"24h"`
	ConsumerRetries uint64        `env:"WEBHOOK_CONSUMER_RETRIES" envDefault:"10"`
	ConsumerDelay   time.Duration `env:"WEBHOOK_CONSUMER_DELAY" envDefault:"200ms"`
	// Parked events go to the dead letter topic after this many trips through the retry topic.
	RedeliveryAttempts int           `env:"WEBHOOK_REDELIVERY_ATTEMPTS" envDefault:"12"`
	RedeliveryDelay    time.Duration `env:"WEBHOOK_REDELIVERY_DELAY" envDefault:"30s"`
}

type Jobs struct {
	ReconcileInterval time.Duration `env:"JOBS_RECONCILE_INTERVAL" envDefault:"10m"`
	ReconcileTimeout  time.Duration `env:"JOBS_RECONCILE_TIMEOUT" envDefault:"5m"`
	ExpireInterval    time.Duration `env:"JOBS_EXPIRE_INTERVAL" envDefault:"1h"`
}

func New(envPath string) (Config, error) {
	err := godotenv.Load(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	c, err := env.ParseAsWithOptions[Config](env.Options{
		RequiredIfNoDef: true,
	})
	if err != nil {
		return Config{}, err
	}

	if c.HTTP.AuthEnabled && c.HTTP.APIKey == "" && c.HTTP.JWTSecret == "" {
		return Config{}, fmt.Errorf("%w: set HTTP_API_KEY or HTTP_JWT_SECRET, or disable HTTP_AUTH_ENABLED", ErrNoServiceCredentials)
	}

	return c, nil
}
