package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Stream       StreamConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Retention    RetentionConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.FeatureFlags.Driver() {
	case ConfirmationDriverKafka:
	case ConfirmationDriverPubSub:
		if c.GCP.ProjectID == "" || c.PubSub.ConfirmationTopic == "" {
			return fmt.Errorf("%s and %s are required when %s=%s",
				EnvGCPProjectID, EnvPubSubConfirmationTopic, EnvConfirmationDriver, ConfirmationDriverPubSub)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvConfirmationDriver, c.FeatureFlags.ConfirmationDriver)
	}
	if len(c.Kafka.BrokerList()) == 0 {
		return fmt.Errorf("%s must list at least one broker", EnvKafkaBrokers)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"PETSTORE_APP_ENV" required:"true"`
	Port         string `envconfig:"PETSTORE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PETSTORE_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"PETSTORE_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"PETSTORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PETSTORE_SERVICE_KIND" default:"pet-stream"`
}

type DBConfig struct {
	DSN    string `envconfig:"PETSTORE_DB_DSN"`
	Driver string `envconfig:"PETSTORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PETSTORE_DB_HOST"`
	LegacyPort     int    `envconfig:"PETSTORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PETSTORE_DB_USER"`
	LegacyPassword string `envconfig:"PETSTORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PETSTORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PETSTORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PETSTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PETSTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PETSTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PETSTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PETSTORE_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PETSTORE_REDIS_URL"`
	Address      string        `envconfig:"PETSTORE_REDIS_ADDR"`
	Password     string        `envconfig:"PETSTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PETSTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PETSTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PETSTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PETSTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PETSTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PETSTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type KafkaConfig struct {
	Brokers            string        `envconfig:"PETSTORE_KAFKA_BROKERS" default:"localhost:9092"`
	CommandsTopic      string        `envconfig:"PETSTORE_KAFKA_COMMANDS_TOPIC" default:"pet-commands"`
	ConfirmationTopic  string        `envconfig:"PETSTORE_KAFKA_CONFIRMATION_TOPIC" default:"pet-created"`
	ConsumerGroup      string        `envconfig:"PETSTORE_KAFKA_CONSUMER_GROUP" default:"pet-stream"`
	ClientID           string        `envconfig:"PETSTORE_KAFKA_CLIENT_ID" default:"petstore"`
	Version            string        `envconfig:"PETSTORE_KAFKA_VERSION" default:"3.6.0"`
	InitialOffset      string        `envconfig:"PETSTORE_KAFKA_INITIAL_OFFSET" default:"oldest"`
	RebalanceStrategy  string        `envconfig:"PETSTORE_KAFKA_REBALANCE_STRATEGY" default:"sticky"`
	ChannelBufferSize  int           `envconfig:"PETSTORE_KAFKA_CHANNEL_BUFFER_SIZE" default:"32"`
	SessionTimeout     time.Duration `envconfig:"PETSTORE_KAFKA_SESSION_TIMEOUT" default:"10s"`
	HeartbeatInterval  time.Duration `envconfig:"PETSTORE_KAFKA_HEARTBEAT_INTERVAL" default:"3s"`
	HandlerTimeout     time.Duration `envconfig:"PETSTORE_KAFKA_HANDLER_TIMEOUT" default:"30s"`
	ProducerRetries    int           `envconfig:"PETSTORE_KAFKA_PRODUCER_RETRIES" default:"5"`
	ProducerIdempotent bool          `envconfig:"PETSTORE_KAFKA_PRODUCER_IDEMPOTENT" default:"true"`
}

// BrokerList splits the comma separated broker addresses.
func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type StreamConfig struct {
	DeadLetterEnabled bool          `envconfig:"PETSTORE_STREAM_DEAD_LETTER_ENABLED" default:"true"`
	RetryBackoffBase  time.Duration `envconfig:"PETSTORE_STREAM_RETRY_BACKOFF_BASE" default:"1s"`
	RetryBackoffMax   time.Duration `envconfig:"PETSTORE_STREAM_RETRY_BACKOFF_MAX" default:"30s"`
	MetricsPort       string        `envconfig:"PETSTORE_STREAM_METRICS_PORT" default:"9090"`
}

type FeatureFlagsConfig struct {
	AutoMigrate        bool   `envconfig:"PETSTORE_AUTO_MIGRATE" default:"false"`
	ConfirmationDriver string `envconfig:"PETSTORE_CONFIRMATION_DRIVER" default:"kafka"`
}

// Driver returns the normalized confirmation transport.
func (f FeatureFlagsConfig) Driver() string {
	driver := strings.ToLower(strings.TrimSpace(f.ConfirmationDriver))
	if driver == "" {
		return ConfirmationDriverKafka
	}
	return driver
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"PETSTORE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PETSTORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PETSTORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PETSTORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ConfirmationTopic string `envconfig:"PETSTORE_PUBSUB_CONFIRMATION_TOPIC"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PETSTORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PETSTORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PETSTORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type RetentionConfig struct {
	Interval   time.Duration `envconfig:"PETSTORE_RETENTION_INTERVAL" default:"24h"`
	OutboxDays int           `envconfig:"PETSTORE_RETENTION_OUTBOX_DAYS" default:"30"`
	DLQDays    int           `envconfig:"PETSTORE_RETENTION_DLQ_DAYS" default:"90"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
