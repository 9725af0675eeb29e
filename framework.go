// Package activities интерпретирует декларативные деревья активностей:
// последовательности, ветвления, циклы, обработку ошибок и параллельное
// выполнение, описанные данными (YAML/JSON) или кодом.
//
// Основные возможности:
//   - исполнитель шаблонов активностей с реестром селекторов
//   - именованные рабочие процессы и Runner с хранилищем запусков
//   - триггеры REST, брокеров сообщений и cron
//   - метрики и трассировка на основе OpenTelemetry
//
// Пример использования:
//
//	out, err := activities.Run(ctx, []any{
//	    map[string]any{"activity": "assign", "name": "x", "value": "js: input + 1"},
//	    map[string]any{"activity": "eval", "value": "js: data.x * 2"},
//	}, 20)
package activities

import (
	"context"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/boot"
	"github.com/akriventsev/activities/framework/config"
)

// Version представляет версию модуля
const (
	Version = "1.0.0"
	Major   = 1
	Minor   = 0
	Patch   = 0
)

// Metadata содержит метаданные о модуле
type Metadata struct {
	Name        string
	Version     string
	Description string
	License     string
	Activities  []string
}

// GetMetadata возвращает метаданные и список встроенных активностей
func GetMetadata() Metadata {
	return Metadata{
		Name:        "Activities",
		Version:     Version,
		Description: "Declarative activity control-flow interpreter",
		License:     "MIT",
		Activities:  activity.NewRegistry().Selectors(),
	}
}

// Run выполняет шаблон активностей встроенным исполнителем
func Run(ctx context.Context, template any, input any) (any, error) {
	return activity.NewExecutor(activity.NewRegistry()).Run(ctx, template, input)
}

// NewApplication собирает приложение из конфигурации (nil - конфигурация по умолчанию)
func NewApplication(ctx context.Context, cfg *config.Config, opts ...boot.Option) (*boot.Application, error) {
	return boot.New(ctx, cfg, opts...)
}
