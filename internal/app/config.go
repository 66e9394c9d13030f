package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/coupon"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/pricing"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Режимы платёжного шлюза.
const (
	GatewayModeMock = "mock"
	GatewayModeSnap = "snap"
)

const envPrefix = "FULFILLMENT_"

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	TxMaxAttempts       int

	KafkaBrokers           string
	KafkaClientID          string
	KafkaOrderTopic        string
	KafkaPaymentTopic      string
	KafkaDLQTopic          string
	KafkaNotificationTopic string
	KafkaConsumerGroup     string
	KafkaConsumeCallbacks  bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог backlog, после которого /healthz сообщает degraded.
	OutboxMaxPending int
	// OutboxMaxAge — сколько старейшее событие может ждать публикации до degraded; 0 отключает.
	OutboxMaxAge time.Duration
	// OutboxRetention — сколько хранить опубликованные события; 0 отключает очистку.
	OutboxRetention time.Duration
	// OutboxBreakerFailures — число ошибок брокера подряд до размыкания; 0 отключает breaker.
	OutboxBreakerFailures int
	OutboxBreakerReset    time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// HealthInterval — как часто пересчитывается готовность для gRPC health service.
	HealthInterval time.Duration

	TaxRate               string
	FlatShippingFee       int64
	FreeShippingThreshold int64
	Currency              string
	// Coupons — фиксированные купоны в формате "CODE=amount,CODE2=amount".
	Coupons string
	// OrderNumberTimeZone задаёт пояс, в котором считается дата номера заказа.
	OrderNumberTimeZone string

	GatewayMode      string
	GatewayServerKey string
	GatewayBaseURL   string
	GatewayTimeout   time.Duration

	SeedDemoData bool
}

// DefaultConfig возвращает конфигурацию для локального запуска (память, mock-шлюз, без Kafka).
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		TxMaxAttempts:       3,

		KafkaClientID:          "fulfillment-service",
		KafkaOrderTopic:        kafka.TopicOrderEvents,
		KafkaPaymentTopic:      kafka.TopicPaymentEvents,
		KafkaDLQTopic:          kafka.TopicDeadLetterQueue,
		KafkaNotificationTopic: kafka.TopicPaymentNotifications,
		KafkaConsumerGroup:     "fulfillment-payment-notifications",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,
		OutboxMaxAge:       5 * time.Minute,
		OutboxRetention:    7 * 24 * time.Hour,

		OutboxBreakerFailures: 5,
		OutboxBreakerReset:    30 * time.Second,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		HealthInterval: 5 * time.Second,

		TaxRate:               pricing.DefaultTaxRate.String(),
		FlatShippingFee:       pricing.DefaultFlatShippingFee,
		FreeShippingThreshold: pricing.DefaultFreeShippingThreshold,
		Currency:              "IDR",
		OrderNumberTimeZone:   "UTC",

		GatewayMode:    GatewayModeMock,
		GatewayBaseURL: "https://app.sandbox.midtrans.com",
		GatewayTimeout: 10 * time.Second,
	}
}

// LoadConfigFromEnv накладывает переменные FULFILLMENT_* на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	env := envReader{lookup: lookup}

	env.str("GRPC_ADDR", &cfg.GRPCAddr)
	env.str("METRICS_ADDR", &cfg.MetricsAddr)
	env.str("LOG_LEVEL", &cfg.LogLevel)

	env.str("STORAGE_DRIVER", &cfg.StorageDriver)
	env.str("POSTGRES_DSN", &cfg.PostgresDSN)
	env.bool("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.int("TX_MAX_ATTEMPTS", &cfg.TxMaxAttempts)

	env.str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.str("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	env.str("KAFKA_ORDER_TOPIC", &cfg.KafkaOrderTopic)
	env.str("KAFKA_PAYMENT_TOPIC", &cfg.KafkaPaymentTopic)
	env.str("KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	env.str("KAFKA_NOTIFICATION_TOPIC", &cfg.KafkaNotificationTopic)
	env.str("KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)
	env.bool("KAFKA_CONSUME_CALLBACKS", &cfg.KafkaConsumeCallbacks)

	env.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.int("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.int("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	env.int("OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending)
	env.duration("OUTBOX_MAX_AGE", &cfg.OutboxMaxAge)
	env.duration("OUTBOX_RETENTION", &cfg.OutboxRetention)
	env.int("OUTBOX_BREAKER_FAILURES", &cfg.OutboxBreakerFailures)
	env.duration("OUTBOX_BREAKER_RESET", &cfg.OutboxBreakerReset)

	env.duration("IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.int("IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)
	env.duration("HEALTH_INTERVAL", &cfg.HealthInterval)

	env.str("TAX_RATE", &cfg.TaxRate)
	env.int64("FLAT_SHIPPING_FEE", &cfg.FlatShippingFee)
	env.int64("FREE_SHIPPING_THRESHOLD", &cfg.FreeShippingThreshold)
	env.str("CURRENCY", &cfg.Currency)
	env.str("COUPONS", &cfg.Coupons)
	env.str("ORDER_NUMBER_TZ", &cfg.OrderNumberTimeZone)

	env.str("GATEWAY_MODE", &cfg.GatewayMode)
	env.str("GATEWAY_SERVER_KEY", &cfg.GatewayServerKey)
	env.str("GATEWAY_BASE_URL", &cfg.GatewayBaseURL)
	env.duration("GATEWAY_TIMEOUT", &cfg.GatewayTimeout)

	env.bool("SEED_DEMO_DATA", &cfg.SeedDemoData)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.GRPCAddr) == "" {
		add("grpc address is required")
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		add("metrics address is required")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		add("invalid log level %q", c.LogLevel)
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			add("postgres DSN is required for postgres storage")
		}
	default:
		add("unsupported storage driver %q", c.StorageDriver)
	}

	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		add("outbox poll interval, batch size and max attempts must be positive")
	}
	if c.OutboxRetryDelay < 0 || c.OutboxRetention < 0 || c.OutboxMaxAge < 0 {
		add("outbox retry delay, retention and max age must not be negative")
	}
	if c.OutboxBreakerFailures < 0 {
		add("outbox breaker failures must not be negative")
	}
	if c.OutboxBreakerFailures > 0 && c.OutboxBreakerReset <= 0 {
		add("outbox breaker reset must be positive when the breaker is enabled")
	}
	if c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		add("idempotency cleanup interval and batch size must be positive")
	}
	if c.HealthInterval <= 0 {
		add("health interval must be positive")
	}

	if _, err := pricing.ParseTaxRate(c.TaxRate); err != nil {
		add("invalid tax rate: %v", err)
	}
	if c.FlatShippingFee < 0 || c.FreeShippingThreshold < 0 {
		add("shipping fee and free shipping threshold must not be negative")
	}
	if strings.TrimSpace(c.Coupons) != "" {
		if _, err := coupon.ParseStatic(c.Coupons); err != nil {
			add("invalid coupons: %v", err)
		}
	}
	if _, err := time.LoadLocation(c.OrderNumberTimeZone); err != nil {
		add("invalid order number time zone %q", c.OrderNumberTimeZone)
	}

	switch c.GatewayMode {
	case GatewayModeMock:
	case GatewayModeSnap:
		if strings.TrimSpace(c.GatewayServerKey) == "" {
			add("gateway server key is required for snap mode")
		}
	default:
		add("unsupported gateway mode %q", c.GatewayMode)
	}

	if c.KafkaConsumeCallbacks && c.kafkaBrokerList() == nil {
		add("kafka brokers are required to consume payment notifications")
	}

	return errors.Join(errs...)
}

func (c Config) kafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	raw, ok := e.lookup(envPrefix + name)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (e *envReader) fail(name string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
}

func (e *envReader) str(name string, dst *string) {
	if raw, ok := e.get(name); ok {
		*dst = raw
	}
}

func (e *envReader) bool(name string, dst *bool) {
	raw, ok := e.get(name)
	if !ok {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = v
}

func (e *envReader) int(name string, dst *int) {
	raw, ok := e.get(name)
	if !ok {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = v
}

func (e *envReader) int64(name string, dst *int64) {
	raw, ok := e.get(name)
	if !ok {
		return
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = v
}

func (e *envReader) duration(name string, dst *time.Duration) {
	raw, ok := e.get(name)
	if !ok {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = v
}
