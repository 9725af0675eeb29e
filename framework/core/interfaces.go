// Package core предоставляет базовые интерфейсы и типы для всех компонентов фреймворка.
package core

import "context"

// Component именованный компонент приложения: хранилище, брокер, триггер или API
type Component interface {
	Name() string
	Type() ComponentType
}

// Lifecycle компонент, который запускается и останавливается приложением
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Service компонент с жизненным циклом
type Service interface {
	Component
	Lifecycle
}

// HealthCheckable компонент, состояние которого попадает в /health и gRPC health
type HealthCheckable interface {
	HealthCheck(ctx context.Context) error
}
