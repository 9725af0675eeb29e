package store

import (
	"context"
	"fmt"
)

// Драйверы хранилища
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// Config конфигурация хранилища запусков
type Config struct {
	Driver   string         `yaml:"driver" env:"STORE_DRIVER"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Driver:   DriverMemory,
		Postgres: DefaultPostgresConfig(),
		Redis:    DefaultRedisConfig(),
		Mongo:    DefaultMongoConfig(),
	}
}

// Validate проверяет конфигурацию выбранного драйвера
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory, "":
		return nil
	case DriverPostgres:
		return c.Postgres.Validate()
	case DriverRedis:
		return c.Redis.Validate()
	case DriverMongo:
		return c.Mongo.Validate()
	default:
		return fmt.Errorf("unknown store driver: %s", c.Driver)
	}
}

// New создает хранилище по конфигурации
func New(ctx context.Context, config Config) (RunStore, error) {
	var (
		runStore RunStore
		err      error
	)
	switch config.Driver {
	case DriverMemory, "":
		runStore = NewMemoryStore()
	case DriverPostgres:
		runStore, err = NewPostgresStore(ctx, config.Postgres)
	case DriverRedis:
		runStore, err = NewRedisStore(ctx, config.Redis)
	case DriverMongo:
		runStore, err = NewMongoStore(ctx, config.Mongo)
	default:
		err = fmt.Errorf("unknown store driver: %s", config.Driver)
	}
	if err != nil {
		return nil, err
	}
	return runStore, nil
}
