package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/angelmondragon/petstore-backend/pkg/config"
)

const (
	defaultHandlerTimeout = 30 * time.Second
	defaultChannelBuffer  = 32
)

// Settings is the validated broker configuration shared by sources and producers.
type Settings struct {
	Brokers           []string
	ConsumerGroup     string
	ClientID          string
	CommandsTopic     string
	ConfirmationTopic string
	HandlerTimeout    time.Duration

	initialOffset     int64
	rebalanceStrategy sarama.BalanceStrategy
	version           sarama.KafkaVersion
	channelBuffer     int
	sessionTimeout    time.Duration
	heartbeatInterval time.Duration
	producerRetryMax  int
	idempotent        bool
}

// LoadSettings parses the env-driven kafka configuration.
func LoadSettings(cfg config.KafkaConfig) (*Settings, error) {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%s must not be empty", config.EnvKafkaBrokers)
	}

	group := strings.TrimSpace(cfg.ConsumerGroup)
	if group == "" {
		return nil, fmt.Errorf("%s must not be empty", config.EnvKafkaConsumerGroup)
	}

	initialOffset, err := parseInitialOffset(cfg.InitialOffset)
	if err != nil {
		return nil, err
	}
	strategy, err := parseRebalanceStrategy(cfg.RebalanceStrategy)
	if err != nil {
		return nil, err
	}
	version, err := parseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}

	handlerTimeout := cfg.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}
	channelBuffer := cfg.ChannelBufferSize
	if channelBuffer <= 0 {
		channelBuffer = defaultChannelBuffer
	}

	return &Settings{
		Brokers:           brokers,
		ConsumerGroup:     group,
		ClientID:          firstNonEmpty(cfg.ClientID, group),
		CommandsTopic:     strings.TrimSpace(cfg.CommandsTopic),
		ConfirmationTopic: strings.TrimSpace(cfg.ConfirmationTopic),
		HandlerTimeout:    handlerTimeout,
		initialOffset:     initialOffset,
		rebalanceStrategy: strategy,
		version:           version,
		channelBuffer:     channelBuffer,
		sessionTimeout:    cfg.SessionTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		producerRetryMax:  cfg.ProducerRetries,
		idempotent:        cfg.ProducerIdempotent,
	}, nil
}

// ConsumerConfig builds the sarama config for consumer groups. Offsets are only
// marked after a record was handled, so auto-commit never skips unapplied work.
func (s *Settings) ConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = s.ClientID
	cfg.Version = s.version
	cfg.ChannelBufferSize = s.channelBuffer
	cfg.Consumer.Offsets.Initial = s.initialOffset
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Offsets.AutoCommit.Interval = time.Second
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{s.rebalanceStrategy}
	if s.sessionTimeout > 0 {
		cfg.Consumer.Group.Session.Timeout = s.sessionTimeout
	}
	if s.heartbeatInterval > 0 {
		cfg.Consumer.Group.Heartbeat.Interval = s.heartbeatInterval
	}
	return cfg
}

// ProducerConfig builds the sarama config for synchronous producers.
func (s *Settings) ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = s.ClientID
	cfg.Version = s.version
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	if s.producerRetryMax > 0 {
		cfg.Producer.Retry.Max = s.producerRetryMax
	}
	cfg.Producer.Idempotent = s.idempotent
	if s.idempotent {
		cfg.Net.MaxOpenRequests = 1
	}
	return cfg
}

func parseInitialOffset(raw string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "oldest", "earliest":
		return sarama.OffsetOldest, nil
	case "newest", "latest":
		return sarama.OffsetNewest, nil
	default:
		return 0, fmt.Errorf("unsupported kafka initial offset: %s", raw)
	}
}

func parseRebalanceStrategy(raw string) (sarama.BalanceStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "sticky":
		return sarama.NewBalanceStrategySticky(), nil
	case "range":
		return sarama.NewBalanceStrategyRange(), nil
	case "roundrobin", "round_robin":
		return sarama.NewBalanceStrategyRoundRobin(), nil
	default:
		return nil, fmt.Errorf("unsupported kafka rebalance strategy: %s", raw)
	}
}

func parseKafkaVersion(raw string) (sarama.KafkaVersion, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "default":
		return sarama.DefaultVersion, nil
	case "max":
		return sarama.MaxVersion, nil
	default:
		version, err := sarama.ParseKafkaVersion(strings.TrimSpace(raw))
		if err != nil {
			return sarama.KafkaVersion{}, fmt.Errorf("invalid kafka version: %w", err)
		}
		return version, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
