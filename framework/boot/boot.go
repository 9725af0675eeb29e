// Package boot собирает приложение из конфигурации: хранилище, исполнитель,
// триггеры и входящие API, и управляет их жизненным циклом.
package boot

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/adapters/grpchealth"
	"github.com/akriventsev/activities/framework/adapters/messagebus"
	"github.com/akriventsev/activities/framework/adapters/rest"
	"github.com/akriventsev/activities/framework/config"
	"github.com/akriventsev/activities/framework/container"
	"github.com/akriventsev/activities/framework/core"
	"github.com/akriventsev/activities/framework/events"
	"github.com/akriventsev/activities/framework/logging"
	"github.com/akriventsev/activities/framework/metrics"
	"github.com/akriventsev/activities/framework/observability"
	"github.com/akriventsev/activities/framework/scheduler"
	"github.com/akriventsev/activities/framework/store"
	"github.com/akriventsev/activities/framework/workflow"
)

// Имена сервисов в контейнере
const (
	ServiceRunner    = "runner"
	ServiceStore     = "store"
	ServiceEvents    = "events"
	ServiceWorkflows = "workflows"
	ServiceBus       = "bus"
)

var (
	_ core.Service = (*rest.Server)(nil)
	_ core.Service = (*grpchealth.Server)(nil)
	_ core.Service = (*scheduler.Scheduler)(nil)

	_ core.HealthCheckable = (store.RunStore)(nil)
	_ core.HealthCheckable = (messagebus.MessageBus)(nil)
)

// Option настраивает приложение перед сборкой
type Option func(*options)

type options struct {
	activities  *activity.Registry
	services    map[string]any
	definitions []*workflow.Definition
	logger      *logrus.Logger
	runStore    store.RunStore
	serve       bool
}

// WithActivities использует реестр с пользовательскими активностями
func WithActivities(registry *activity.Registry) Option {
	return func(o *options) { o.activities = registry }
}

// WithService регистрирует сервис, доступный активности invoke по имени
func WithService(name string, service any) Option {
	return func(o *options) { o.services[name] = service }
}

// WithDefinitions регистрирует определения рабочих процессов в дополнение к директории
func WithDefinitions(defs ...*workflow.Definition) Option {
	return func(o *options) { o.definitions = append(o.definitions, defs...) }
}

// WithLogger использует готовый логгер вместо созданного из конфигурации
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore использует готовое хранилище запусков
func WithStore(runStore store.RunStore) Option {
	return func(o *options) { o.runStore = runStore }
}

// WithoutServers собирает только ядро без HTTP, gRPC, брокера и планировщика.
// Используется для однократного запуска из CLI.
func WithoutServers() Option {
	return func(o *options) { o.serve = false }
}

// Application собранное приложение
type Application struct {
	config    *config.Config
	logger    *logrus.Logger
	container *container.Container

	executor  *activity.Executor
	workflows *workflow.Registry
	runner    *workflow.Runner
	store     store.RunStore
	events    *events.InMemoryEventBus
	debug     *observability.DebugManager
	tracing   *observability.TracingManager
	metrics   *metrics.Metrics
	provider  *metrics.Provider

	bus       messagebus.MessageBus
	scheduler *scheduler.Scheduler
	http      *rest.Server
	grpc      *grpchealth.Server

	started bool
}

// New собирает приложение. Компоненты запускаются методом Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{services: make(map[string]any), serve: true}
	for _, opt := range opts {
		opt(o)
	}

	app := &Application{config: cfg, logger: o.logger, container: container.NewContainer()}
	if app.logger == nil {
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		app.logger = logger
	}

	err := app.buildCore(ctx, o)
	if err == nil && o.serve {
		err = app.buildServers()
	}
	if err == nil {
		err = app.registerServices(o.services)
	}
	if err != nil {
		if app.store != nil {
			_ = app.store.Close(ctx)
		}
		return nil, err
	}
	return app, nil
}

func (a *Application) buildCore(ctx context.Context, o *options) error {
	cfg := a.config
	var err error

	a.store = o.runStore
	if a.store == nil {
		if a.store, err = store.New(ctx, cfg.Store); err != nil {
			return fmt.Errorf("failed to create run store: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		if a.provider, err = metrics.SetupMetrics(&cfg.Metrics); err != nil {
			return err
		}
		if a.metrics, err = metrics.NewMetricsWithProvider(a.provider.MeterProvider); err != nil {
			return err
		}
	}

	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = cfg.App.Environment
	}
	if a.tracing, err = observability.NewTracingManager(cfg.Tracing); err != nil {
		return err
	}

	a.events = events.NewInMemoryEventBus()
	if a.metrics != nil {
		a.events.WithMiddleware(metrics.EventMiddleware(a.metrics))
	}

	registry := o.activities
	if registry == nil {
		registry = activity.NewRegistry()
	}
	a.executor = activity.NewExecutor(registry).
		WithConfig(cfg.Engine).
		WithLogger(logging.Component(a.logger, "executor")).
		WithServices(a.container).
		WithInterceptor(events.ActivityInterceptor(a.events))
	if a.metrics != nil {
		a.executor.WithInterceptor(metrics.Interceptor(a.metrics))
	}
	if cfg.Tracing.Enabled {
		a.executor.WithInterceptor(a.tracing.Interceptor())
	}

	a.workflows = workflow.NewRegistry(a.executor.Resolver())
	if dir := cfg.Workflows.Dir; dir != "" {
		if _, statErr := os.Stat(dir); statErr == nil {
			if err := a.workflows.LoadDir(dir); err != nil {
				return fmt.Errorf("failed to load workflows from %s: %w", dir, err)
			}
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return fmt.Errorf("failed to read workflows dir: %w", statErr)
		}
	}
	for _, def := range o.definitions {
		if err := a.workflows.Register(def); err != nil {
			return err
		}
	}

	a.runner = workflow.NewRunner(a.executor, a.workflows, a.store).
		WithEvents(a.events).
		WithLogger(logging.Component(a.logger, "runner"))
	if a.metrics != nil {
		a.runner.WithMetrics(a.metrics)
	}
	if cfg.Tracing.Enabled {
		a.runner.WithTracing(a.tracing)
	}

	a.debug = observability.NewDebugManager(cfg.Debug)
	a.debug.RegisterHealthCheck(healthCheck("store", a.store))

	lc := a.container.Components()
	return multierror.Append(nil,
		lc.Register(componentFunc{name: "store", stop: a.store.Close}, container.PriorityInfrastructure),
		lc.Register(a.tracing, container.PriorityInfrastructure),
		lc.Register(componentFunc{name: "metrics", stop: a.provider.Shutdown}, container.PriorityInfrastructure),
		lc.Register(componentFunc{name: "events", stop: a.events.Shutdown}, container.PriorityInfrastructure),
		lc.Register(a.debug, container.PriorityInfrastructure),
		lc.Register(componentFunc{name: "runner", stop: a.runner.Shutdown}, container.PriorityEngine, "store", "events"),
	).ErrorOrNil()
}

func (a *Application) buildServers() error {
	cfg := a.config
	lc := a.container.Components()
	var err error

	if a.bus, err = messagebus.New(cfg.Bus, logging.Component(a.logger, "bus")); err != nil {
		return err
	}
	a.debug.RegisterHealthCheck(healthCheck("bus", a.bus))

	trigger := messagebus.NewTrigger(a.bus, a.runner, cfg.Bus.Prefix).
		WithLogger(logging.Component(a.logger, "bus-trigger")).
		WithMetrics(a.metrics)
	forwarder := messagebus.NewForwarder(a.bus, cfg.Bus.Prefix)
	var detach func()
	forwarding := componentFunc{
		name: "event-forwarder",
		start: func(ctx context.Context) error {
			var err error
			detach, err = forwarder.Attach(a.events)
			return err
		},
		stop: func(ctx context.Context) error {
			if detach != nil {
				detach()
			}
			return nil
		},
	}

	result := multierror.Append(nil,
		lc.Register(a.bus, container.PriorityInfrastructure),
		lc.Register(forwarding, container.PriorityEngine, a.bus.Name(), "events"),
		lc.Register(trigger, container.PriorityTransport, a.bus.Name(), "runner"),
	)

	if cfg.Scheduler.Enabled {
		if a.scheduler, err = scheduler.New(cfg.Scheduler, a.runner); err != nil {
			return err
		}
		a.scheduler.WithLogger(logging.Component(a.logger, "scheduler")).WithMetrics(a.metrics)
		result = multierror.Append(result, lc.Register(a.scheduler, container.PriorityEngine, "runner"))
	}

	if a.http, err = rest.NewServer(cfg.HTTP, a.runner); err != nil {
		return err
	}
	a.http.WithLogger(logging.Component(a.logger, "http")).
		WithHealth(a.debug).
		WithEvents(a.events)
	if a.provider != nil {
		a.http.WithMetricsHandler(cfg.Metrics.Path, a.provider.Handler())
	}
	if cfg.Tracing.Enabled {
		a.http.WithTracing(cfg.Tracing.ServiceName)
	}
	result = multierror.Append(result, lc.Register(a.http, container.PriorityTransport, "runner", a.debug.Name()))

	if cfg.GRPC.Enabled {
		a.grpc = grpchealth.NewServer(cfg.GRPC, a.debug).WithLogger(logging.Component(a.logger, "grpc"))
		result = multierror.Append(result, lc.Register(a.grpc, container.PriorityTransport, a.debug.Name()))
	}
	return result.ErrorOrNil()
}

func (a *Application) registerServices(extra map[string]any) error {
	result := multierror.Append(nil,
		container.Set(a.container, ServiceRunner, a.runner),
		container.Set(a.container, ServiceStore, a.store),
		container.Set(a.container, ServiceEvents, a.events),
		container.Set(a.container, ServiceWorkflows, a.workflows),
	)
	if a.bus != nil {
		result = multierror.Append(result, container.Set(a.container, ServiceBus, a.bus))
	}
	for name, svc := range extra {
		result = multierror.Append(result, container.Set(a.container, name, svc))
	}
	return result.ErrorOrNil()
}

// Start запускает компоненты в порядке зависимостей
func (a *Application) Start(ctx context.Context) error {
	if err := a.container.Components().StartAll(ctx); err != nil {
		return err
	}
	a.started = true
	a.logger.WithFields(logrus.Fields{
		"app":       a.config.App.Name,
		"env":       a.config.App.Environment,
		"workflows": len(a.workflows.List()),
	}).Info("application started")
	return nil
}

// Stop останавливает компоненты в обратном порядке
func (a *Application) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.App.ShutdownTimeout)
	defer cancel()
	err := a.container.Shutdown(ctx)
	if !a.started {
		// компоненты не запускались, но соединение хранилища открыто в New
		if closeErr := a.store.Close(ctx); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}
	a.started = false
	if err != nil {
		a.logger.WithError(err).Error("application stopped with errors")
		return err
	}
	a.logger.Info("application stopped")
	return nil
}

// Run запускает приложение и блокируется до отмены ctx
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop(context.WithoutCancel(ctx))
}

// Config возвращает конфигурацию
func (a *Application) Config() *config.Config { return a.config }

// Logger возвращает логгер
func (a *Application) Logger() *logrus.Logger { return a.logger }

// Container возвращает контейнер сервисов
func (a *Application) Container() *container.Container { return a.container }

// Runner возвращает исполнитель запусков
func (a *Application) Runner() *workflow.Runner { return a.runner }

// Workflows возвращает реестр рабочих процессов
func (a *Application) Workflows() *workflow.Registry { return a.workflows }

// Events возвращает шину событий запусков
func (a *Application) Events() *events.InMemoryEventBus { return a.events }

// HTTP возвращает HTTP сервер, nil если серверы не собраны
func (a *Application) HTTP() *rest.Server { return a.http }

// Services возвращает собранные сервисы входящих API и триггеров
func (a *Application) Services() []core.Service {
	var services []core.Service
	if a.http != nil {
		services = append(services, a.http)
	}
	if a.grpc != nil {
		services = append(services, a.grpc)
	}
	if a.scheduler != nil {
		services = append(services, a.scheduler)
	}
	return services
}

func healthCheck(name string, target core.HealthCheckable) observability.HealthCheck {
	return observability.NewCheck(name, target.HealthCheck)
}

// componentFunc компонент из пары функций
type componentFunc struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (c componentFunc) Name() string { return c.name }

func (c componentFunc) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c componentFunc) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	return c.stop(ctx)
}
