// Package grpchealth публикует состояние приложения через стандартный
// gRPC Health Checking Protocol.
package grpchealth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akriventsev/activities/framework/core"
	"github.com/akriventsev/activities/framework/observability"
)

// Config конфигурация gRPC сервера
type Config struct {
	Enabled              bool          `yaml:"enabled" env:"GRPC_ENABLED"`
	Addr                 string        `yaml:"addr" env:"GRPC_ADDR"`
	Service              string        `yaml:"service"`
	CheckInterval        time.Duration `yaml:"check_interval"`
	MaxConcurrentStreams uint32        `yaml:"max_concurrent_streams"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Enabled:              false,
		Addr:                 ":50051",
		Service:              "activities",
		CheckInterval:        10 * time.Second,
		MaxConcurrentStreams: 100,
	}
}

// Validate проверяет корректность конфигурации
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("grpc addr cannot be empty")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive")
	}
	return nil
}

// Checker источник состояния, например observability.DebugManager
type Checker interface {
	Check(ctx context.Context) error
}

// Server gRPC сервер со службой health
type Server struct {
	config  Config
	checker Checker
	logger  logrus.FieldLogger
	health  *health.Server
	grpc    *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// NewServer создает gRPC сервер
func NewServer(config Config, checker Checker) *Server {
	srv := grpc.NewServer(
		grpc.MaxConcurrentStreams(config.MaxConcurrentStreams),
		grpc.ChainUnaryInterceptor(observability.GRPCTracingInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		config:  config,
		checker: checker,
		logger:  logrus.StandardLogger(),
		health:  hs,
		grpc:    srv,
	}
}

// WithLogger устанавливает логгер
func (s *Server) WithLogger(logger logrus.FieldLogger) *Server {
	s.logger = logger
	return s
}

// GRPCServer возвращает grpc.Server для регистрации дополнительных служб
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpc
}

// Name возвращает имя компонента
func (s *Server) Name() string {
	return "grpc-health"
}

// Type возвращает тип компонента
func (s *Server) Type() core.ComponentType {
	return core.ComponentTypeTransport
}

// Refresh выполняет проверки и обновляет статус службы
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil {
		if err := s.checker.Check(ctx); err != nil {
			s.logger.WithError(err).Warn("health check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	if s.config.Service != "" {
		s.health.SetServingStatus(s.config.Service, status)
	}
	return status
}

// Start открывает порт и запускает периодическое обновление статуса
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve обслуживает запросы на переданном listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.listener = listener
	s.running = true
	s.Refresh(ctx)

	probeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.WithError(err).Error("grpc server stopped")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.probe(probeCtx)
	}()

	s.logger.WithField("addr", listener.Addr().String()).Info("grpc health server started")
	return nil
}

func (s *Server) probe(ctx context.Context) {
	interval := s.config.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Stop переводит службу в NOT_SERVING и останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	s.wg.Wait()
	return nil
}

// IsRunning проверяет, запущен ли сервер
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
