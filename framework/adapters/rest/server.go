// Package rest предоставляет HTTP API для управления запусками рабочих процессов:
// запуск, отмена, просмотр и поток событий через WebSocket.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/akriventsev/activities/framework/core"
	"github.com/akriventsev/activities/framework/events"
	"github.com/akriventsev/activities/framework/observability"
	"github.com/akriventsev/activities/framework/workflow"
)

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details []ValidationError `json:"details,omitempty"`
}

// Server HTTP API поверх workflow.Runner
type Server struct {
	config      Config
	runner      *workflow.Runner
	logger      logrus.FieldLogger
	debug       *observability.DebugManager
	events      events.EventSubscriber
	metrics     http.Handler
	metricsPath string
	serviceName string
	validator   *OpenAPIValidator
	limiter     *RateLimiter
	upgrader    websocket.Upgrader

	buildOnce sync.Once
	engine    *gin.Engine

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	running  bool
	conns    map[*websocket.Conn]struct{}
}

// NewServer создает HTTP API
func NewServer(config Config, runner *workflow.Runner) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	s := &Server{
		config: config,
		runner: runner,
		logger: logrus.StandardLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	if config.ValidateRequests {
		validator, err := NewOpenAPIValidator(openAPIDocument)
		if err != nil {
			return nil, err
		}
		s.validator = validator
	}
	if config.RateLimit > 0 {
		s.limiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}
	return s, nil
}

// WithLogger устанавливает логгер
func (s *Server) WithLogger(logger logrus.FieldLogger) *Server {
	s.logger = logger
	return s
}

// WithHealth подключает /health и /ready
func (s *Server) WithHealth(debug *observability.DebugManager) *Server {
	s.debug = debug
	return s
}

// WithEvents подключает поток событий запусков через WebSocket
func (s *Server) WithEvents(subscriber events.EventSubscriber) *Server {
	s.events = subscriber
	return s
}

// WithMetricsHandler публикует обработчик метрик по пути path
func (s *Server) WithMetricsHandler(path string, handler http.Handler) *Server {
	s.metricsPath = path
	s.metrics = handler
	return s
}

// WithTracing включает HTTP-спаны с указанным именем сервиса
func (s *Server) WithTracing(serviceName string) *Server {
	s.serviceName = serviceName
	return s
}

// WithCheckOrigin задает проверку Origin для WebSocket
func (s *Server) WithCheckOrigin(check func(r *http.Request) bool) *Server {
	s.upgrader.CheckOrigin = check
	return s
}

// Handler возвращает http.Handler с зарегистрированными маршрутами
func (s *Server) Handler() http.Handler {
	s.buildOnce.Do(s.build)
	return s.engine
}

func (s *Server) build() {
	engine := gin.New()
	engine.Use(gin.Recovery(), observability.CorrelationIDMiddleware(), s.requestLogger())
	if s.serviceName != "" {
		engine.Use(observability.HTTPTracingMiddleware(s.serviceName))
	}

	if s.debug != nil {
		engine.GET("/health", s.debug.HealthCheckHandler())
		engine.GET("/ready", s.debug.ReadinessCheckHandler())
	}
	if s.metrics != nil {
		engine.GET(s.metricsPath, gin.WrapH(s.metrics))
	}
	engine.GET("/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", openAPIDocument)
	})

	api := engine.Group(s.config.BasePath)
	if s.limiter != nil {
		api.Use(s.limiter.Middleware())
	}
	if s.validator != nil {
		api.Use(s.validator.Middleware())
	}
	api.GET("/workflows", s.listWorkflows)
	api.POST("/workflows/:name/runs", s.startRun)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.DELETE("/runs/:id", s.cancelRun)
	api.GET("/runs/:id/events", s.streamRunEvents)

	s.engine = engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.logger.WithFields(logrus.Fields{
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"status":         c.Writer.Status(),
			"duration":       time.Since(start),
			"correlation_id": c.Writer.Header().Get(observability.CorrelationIDHeader),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request handled")
	}
}

// Name возвращает имя компонента
func (s *Server) Name() string {
	return "rest-api"
}

// Type возвращает тип компонента
func (s *Server) Type() core.ComponentType {
	return core.ComponentTypeTransport
}

// Start открывает порт и обслуживает запросы в фоне
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.running = true
	if s.limiter != nil {
		interval := s.config.RateCleanup
		if interval <= 0 {
			interval = time.Minute
		}
		s.limiter.StartCleanup(interval)
	}

	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("http server stopped")
		}
	}(s.server)

	s.logger.WithField("addr", listener.Addr().String()).Info("http server started")
	return nil
}

// Addr возвращает адрес, на котором слушает сервер
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Stop закрывает WebSocket соединения и останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.StopCleanup()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// IsRunning проверяет, запущен ли сервер
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// errorStatus отображает код ошибки фреймворка в HTTP статус
func errorStatus(err error) int {
	switch core.CodeOf(err) {
	case core.ErrWorkflowNotFound, core.ErrRunNotFound, core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRunFinished, core.ErrAlreadyExists:
		return http.StatusConflict
	case core.ErrInvalidTemplate, core.ErrInvalidExpression, core.ErrUnknownActivity:
		return http.StatusBadRequest
	case core.ErrRunCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	code := core.CodeOf(err)
	if code == "" {
		code = "INTERNAL"
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
