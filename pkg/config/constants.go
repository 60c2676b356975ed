package config

const (
	EnvPrefix = "PETSTORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	ConfirmationDriverKafka  = "kafka"
	ConfirmationDriverPubSub = "pubsub"

	EnvAppEnv   = "PETSTORE_APP_ENV"
	EnvPort     = "PETSTORE_APP_PORT"
	EnvLogLevel = "PETSTORE_LOG_LEVEL"

	EnvDBDSN  = "PETSTORE_DB_DSN"
	EnvDBHost = "PETSTORE_DB_HOST"
	EnvDBUser = "PETSTORE_DB_USER"
	EnvDBName = "PETSTORE_DB_NAME"

	EnvRedisURL = "PETSTORE_REDIS_URL"

	EnvKafkaBrokers           = "PETSTORE_KAFKA_BROKERS"
	EnvKafkaCommandsTopic     = "PETSTORE_KAFKA_COMMANDS_TOPIC"
	EnvKafkaConfirmationTopic = "PETSTORE_KAFKA_CONFIRMATION_TOPIC"
	EnvKafkaConsumerGroup     = "PETSTORE_KAFKA_CONSUMER_GROUP"

	EnvStreamDeadLetter = "PETSTORE_STREAM_DEAD_LETTER_ENABLED"

	EnvConfirmationDriver      = "PETSTORE_CONFIRMATION_DRIVER"
	EnvGCPProjectID            = "PETSTORE_GCP_PROJECT_ID"
	EnvPubSubConfirmationTopic = "PETSTORE_PUBSUB_CONFIRMATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
