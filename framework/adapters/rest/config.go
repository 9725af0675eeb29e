package rest

import (
	"fmt"
	"time"
)

// Config конфигурация HTTP API
type Config struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR"`
	BasePath        string        `yaml:"base_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// WaitTimeout ограничивает синхронный запуск (?wait=true)
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// RateLimit запросов в секунду на клиента, 0 отключает ограничение
	RateLimit float64 `yaml:"rate_limit" env:"HTTP_RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst"`
	// RateCleanup период удаления неактивных клиентов из ограничителя
	RateCleanup time.Duration `yaml:"rate_cleanup"`

	ValidateRequests bool   `yaml:"validate_requests"`
	Mode             string `yaml:"mode" env:"GIN_MODE"` // debug, release, test
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		BasePath:         "/api/v1",
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     5 * time.Minute,
		ShutdownTimeout:  30 * time.Second,
		WaitTimeout:      time.Minute,
		RateLimit:        50,
		RateBurst:        100,
		RateCleanup:      time.Minute,
		ValidateRequests: true,
		Mode:             "release",
	}
}

// Validate проверяет корректность конфигурации
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("http addr cannot be empty")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be non-negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be positive when rate_limit is set")
	}
	switch c.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("unknown gin mode: %s", c.Mode)
	}
	return nil
}
