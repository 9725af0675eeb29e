// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// DebugConfig конфигурация проверок здоровья и pprof
type DebugConfig struct {
	EnablePprof  bool          `yaml:"pprof" env:"DEBUG_PPROF"`
	PprofAddr    string        `yaml:"pprof_addr" env:"DEBUG_PPROF_ADDR"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// DefaultDebugConfig возвращает конфигурацию по умолчанию
func DefaultDebugConfig() DebugConfig {
	return DebugConfig{
		EnablePprof:  false,
		PprofAddr:    ":6060",
		CheckTimeout: 5 * time.Second,
	}
}

// HealthCheck интерфейс для health checks
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc проверка на основе функции
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheck создает именованную проверку
func NewCheck(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Name возвращает имя проверки
func (c *CheckFunc) Name() string { return c.name }

// Check выполняет проверку
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// HealthCheckResult результат health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Healthy сообщает, прошли ли все проверки
func (r HealthCheckResult) Healthy() bool {
	return r.Status == StatusHealthy
}

// CheckResult результат отдельной проверки
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DebugManager держит проверки здоровья и необязательный pprof сервер
type DebugManager struct {
	config      DebugConfig
	pprofServer *http.Server
	checks      []HealthCheck
	running     bool
	mu          sync.RWMutex
}

// NewDebugManager создает новый DebugManager
func NewDebugManager(config DebugConfig) *DebugManager {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}
	return &DebugManager{config: config}
}

// Name возвращает имя компонента
func (dm *DebugManager) Name() string {
	return "debug"
}

// Start запускает pprof сервер, если он включен
func (dm *DebugManager) Start(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.running = true

	if !dm.config.EnablePprof {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	dm.pprofServer = &http.Server{
		Addr:              dm.config.PprofAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func(srv *http.Server) {
		_ = srv.ListenAndServe()
	}(dm.pprofServer)
	return nil
}

// Stop останавливает pprof сервер
func (dm *DebugManager) Stop(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.running = false

	if dm.pprofServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := dm.pprofServer.Shutdown(shutdownCtx)
	dm.pprofServer = nil
	return err
}

// IsRunning проверяет статус
func (dm *DebugManager) IsRunning() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.running
}

// RegisterHealthCheck регистрирует health check
func (dm *DebugManager) RegisterHealthCheck(checks ...HealthCheck) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.checks = append(dm.checks, checks...)
}

// Evaluate выполняет все проверки
func (dm *DebugManager) Evaluate(ctx context.Context) HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, dm.config.CheckTimeout)
	defer cancel()

	dm.mu.RLock()
	checks := append([]HealthCheck(nil), dm.checks...)
	dm.mu.RUnlock()

	result := HealthCheckResult{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
	}
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)

		cr := CheckResult{Status: StatusHealthy, Duration: time.Since(start)}
		if err != nil {
			cr.Status = StatusUnhealthy
			cr.Message = err.Error()
			result.Status = StatusUnhealthy
		}
		result.Checks[check.Name()] = cr
	}
	return result
}

// Check выполняет все проверки и объединяет ошибки
func (dm *DebugManager) Check(ctx context.Context) error {
	var result *multierror.Error
	for name, cr := range dm.Evaluate(ctx).Checks {
		if cr.Status != StatusHealthy {
			result = multierror.Append(result, fmt.Errorf("%s: %s", name, cr.Message))
		}
	}
	return result.ErrorOrNil()
}

// HealthCheckHandler возвращает Gin handler для health check
func (dm *DebugManager) HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := dm.Evaluate(c.Request.Context())
		if !result.Healthy() {
			c.JSON(http.StatusServiceUnavailable, result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// ReadinessCheckHandler возвращает Gin handler для readiness check
func (dm *DebugManager) ReadinessCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !dm.Evaluate(c.Request.Context()).Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
