// Package config загружает конфигурацию приложения из YAML файлов,
// .env файлов и переменных окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/adapters/grpchealth"
	"github.com/akriventsev/activities/framework/adapters/messagebus"
	"github.com/akriventsev/activities/framework/adapters/rest"
	"github.com/akriventsev/activities/framework/core"
	"github.com/akriventsev/activities/framework/logging"
	"github.com/akriventsev/activities/framework/metrics"
	"github.com/akriventsev/activities/framework/observability"
	"github.com/akriventsev/activities/framework/scheduler"
	"github.com/akriventsev/activities/framework/store"
)

// AppConfig общие параметры приложения
type AppConfig struct {
	Name            string        `yaml:"name" env:"APP_NAME"`
	Environment     string        `yaml:"environment" env:"APP_ENV"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"APP_SHUTDOWN_TIMEOUT"`
}

// WorkflowsConfig источник определений рабочих процессов
type WorkflowsConfig struct {
	Dir string `yaml:"dir" env:"WORKFLOWS_DIR"`
}

// Config полная конфигурация приложения
type Config struct {
	App       AppConfig                   `yaml:"app"`
	Log       logging.Config              `yaml:"log"`
	Engine    activity.Config             `yaml:"engine"`
	Workflows WorkflowsConfig             `yaml:"workflows"`
	Store     store.Config                `yaml:"store"`
	Bus       messagebus.Config           `yaml:"bus"`
	HTTP      rest.Config                 `yaml:"http"`
	GRPC      grpchealth.Config           `yaml:"grpc"`
	Metrics   metrics.MetricsConfig       `yaml:"metrics"`
	Tracing   observability.TracingConfig `yaml:"tracing"`
	Debug     observability.DebugConfig   `yaml:"debug"`
	Scheduler scheduler.Config            `yaml:"scheduler"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:            "activities",
			Environment:     "development",
			ShutdownTimeout: 30 * time.Second,
		},
		Log:       logging.DefaultConfig(),
		Engine:    activity.DefaultConfig(),
		Workflows: WorkflowsConfig{Dir: "workflows"},
		Store:     store.DefaultConfig(),
		Bus:       messagebus.DefaultConfig(),
		HTTP:      rest.DefaultConfig(),
		GRPC:      grpchealth.DefaultConfig(),
		Metrics:   metrics.DefaultMetricsConfig(),
		Tracing:   observability.DefaultTracingConfig(),
		Debug:     observability.DefaultDebugConfig(),
		Scheduler: scheduler.DefaultConfig(),
	}
}

// Validate проверяет все секции конфигурации
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return core.NewError(core.ErrInvalidConfig, "app.name cannot be empty")
	}
	if c.App.ShutdownTimeout <= 0 {
		return core.NewError(core.ErrInvalidConfig, "app.shutdown_timeout must be positive")
	}
	if c.Engine.ParallelLimit < 0 || c.Engine.MaxIterations < 0 || c.Engine.StatusLimit < 0 {
		return core.NewError(core.ErrInvalidConfig, "engine limits must be non-negative")
	}
	checks := []struct {
		section string
		err     error
	}{
		{"log", c.Log.Validate()},
		{"store", c.Store.Validate()},
		{"bus", c.Bus.Validate()},
		{"http", c.HTTP.Validate()},
		{"grpc", c.GRPC.Validate()},
		{"scheduler", c.Scheduler.Validate()},
	}
	for _, check := range checks {
		if check.err != nil {
			return core.Wrap(check.err, core.ErrInvalidConfig, "invalid "+check.section+" config")
		}
	}
	return nil
}

// Loader собирает конфигурацию: значения по умолчанию, базовый файл,
// файлы-наложения, .env файлы и переменные окружения
type Loader struct {
	file     string
	overlays []string
	envFiles []string
	useEnv   bool
}

// NewLoader создает загрузчик для базового файла (может быть пустым)
func NewLoader(file string) *Loader {
	return &Loader{file: file, useEnv: true}
}

// WithOverlay добавляет файл, значения которого перекрывают базовый
func (l *Loader) WithOverlay(files ...string) *Loader {
	l.overlays = append(l.overlays, files...)
	return l
}

// WithEnvFile добавляет .env файлы. Отсутствующие файлы пропускаются.
func (l *Loader) WithEnvFile(files ...string) *Loader {
	l.envFiles = append(l.envFiles, files...)
	return l
}

// WithoutEnv отключает чтение переменных окружения
func (l *Loader) WithoutEnv() *Loader {
	l.useEnv = false
	return l
}

// Load загружает и проверяет конфигурацию
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.file != "" {
		data, err := os.ReadFile(l.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", l.file, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to parse "+l.file)
		}
	}

	for _, file := range l.overlays {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read overlay %s: %w", file, err)
		}
		overlay := &Config{}
		if err := yaml.Unmarshal(data, overlay); err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to parse "+file)
		}
		if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge overlay %s: %w", file, err)
		}
	}

	if err := loadEnvFiles(l.envFiles); err != nil {
		return nil, err
	}
	if l.useEnv {
		if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to decode environment")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load загружает конфигурацию из файла с учетом .env и переменных окружения
func Load(file string) (*Config, error) {
	return NewLoader(file).WithEnvFile(".env").Load()
}

func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	// godotenv.Load не перезаписывает уже заданные переменные
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}
