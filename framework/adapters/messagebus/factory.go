package messagebus

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Драйверы брокеров
const (
	DriverInMemory = "inmemory"
	DriverNATS     = "nats"
	DriverKafka    = "kafka"
	DriverRedis    = "redis"
)

// Config конфигурация шины сообщений
type Config struct {
	Driver   string         `yaml:"driver" env:"BUS_DRIVER"`
	Prefix   string         `yaml:"prefix" env:"BUS_PREFIX"`
	InMemory InMemoryConfig `yaml:"inmemory"`
	NATS     NATSConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Driver:   DriverInMemory,
		Prefix:   "activities",
		InMemory: DefaultInMemoryConfig(),
		NATS:     DefaultNATSConfig(),
		Kafka:    DefaultKafkaConfig(),
		Redis:    DefaultRedisConfig(),
	}
}

// Validate проверяет конфигурацию выбранного драйвера
func (c Config) Validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("bus prefix cannot be empty")
	}
	switch c.Driver {
	case DriverInMemory:
		return nil
	case DriverNATS:
		return c.NATS.Validate()
	case DriverKafka:
		return c.Kafka.Validate()
	case DriverRedis:
		return c.Redis.Validate()
	default:
		return fmt.Errorf("unknown bus driver: %s", c.Driver)
	}
}

// New создает адаптер по конфигурации. Адаптер нужно запустить через Start.
func New(config Config, logger logrus.FieldLogger) (MessageBus, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bus config: %w", err)
	}
	var (
		bus MessageBus
		err error
	)
	switch config.Driver {
	case DriverNATS:
		bus, err = NewNATSAdapter(config.NATS, logger)
	case DriverKafka:
		bus, err = NewKafkaAdapter(config.Kafka, logger)
	case DriverRedis:
		bus, err = NewRedisAdapter(config.Redis, logger)
	default:
		bus = NewInMemoryAdapter(config.InMemory)
	}
	if err != nil {
		return nil, err
	}
	return bus, nil
}
