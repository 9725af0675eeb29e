package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/core"
	"github.com/akriventsev/activities/framework/events"
	"github.com/akriventsev/activities/framework/metrics"
	"github.com/akriventsev/activities/framework/observability"
	"github.com/akriventsev/activities/framework/store"
)

// Источники запусков
const (
	TriggerAPI      = "api"
	TriggerBus      = "bus"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
	TriggerEmbedded = "embedded"
)

// StartOption опция запуска
type StartOption func(*startOptions)

type startOptions struct {
	id      string
	trigger string
}

// WithRunID задает идентификатор запуска
func WithRunID(id string) StartOption {
	return func(o *startOptions) {
		o.id = id
	}
}

// WithTrigger задает источник запуска
func WithTrigger(trigger string) StartOption {
	return func(o *startOptions) {
		o.trigger = trigger
	}
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner запускает рабочие процессы, отслеживает активные запуски
// и сохраняет их состояние в хранилище.
type Runner struct {
	executor  *activity.Executor
	registry  *Registry
	store     store.RunStore
	publisher events.EventPublisher
	metrics   *metrics.Metrics
	tracing   *observability.TracingManager
	logger    logrus.FieldLogger

	mu       sync.Mutex
	active   map[string]*activeRun
	reserved map[string]struct{} // явные идентификаторы, запись которых еще не сохранена
	wg       sync.WaitGroup
	closed   bool
}

// NewRunner создает Runner
func NewRunner(executor *activity.Executor, registry *Registry, runStore store.RunStore) *Runner {
	if runStore == nil {
		runStore = store.NewMemoryStore()
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return &Runner{
		executor: executor,
		registry: registry,
		store:    runStore,
		logger:   logger,
		active:   make(map[string]*activeRun),
		reserved: make(map[string]struct{}),
	}
}

// WithEvents устанавливает публикатор событий запусков
func (r *Runner) WithEvents(publisher events.EventPublisher) *Runner {
	r.publisher = publisher
	return r
}

// WithMetrics добавляет метрики запусков
func (r *Runner) WithMetrics(m *metrics.Metrics) *Runner {
	r.metrics = m
	return r
}

// WithTracing добавляет span на каждый запуск
func (r *Runner) WithTracing(tm *observability.TracingManager) *Runner {
	r.tracing = tm
	return r
}

// WithLogger устанавливает логгер
func (r *Runner) WithLogger(logger logrus.FieldLogger) *Runner {
	r.logger = logger
	return r
}

// Registry возвращает реестр рабочих процессов
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Store возвращает хранилище запусков
func (r *Runner) Store() store.RunStore {
	return r.store
}

// Start запускает рабочий процесс асинхронно и возвращает запись в состоянии pending
func (r *Runner) Start(ctx context.Context, name string, input any, opts ...StartOption) (*store.RunRecord, error) {
	wf, rec, err := r.prepare(ctx, name, input, opts)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run, err := r.track(rec.ID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	working := rec.Clone()
	go func() {
		defer r.untrack(working.ID, run)
		r.execute(runCtx, wf, working)
	}()
	return rec, nil
}

// Execute запускает рабочий процесс и ждет завершения.
// Ошибка выполнения дерева отражается в состоянии записи, а не в возвращаемой ошибке.
func (r *Runner) Execute(ctx context.Context, name string, input any, opts ...StartOption) (*store.RunRecord, error) {
	wf, rec, err := r.prepare(ctx, name, input, opts)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run, err := r.track(rec.ID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	defer r.untrack(rec.ID, run)

	return r.execute(runCtx, wf, rec), nil
}

// Get возвращает запись запуска
func (r *Runner) Get(ctx context.Context, id string) (*store.RunRecord, error) {
	return r.store.Get(ctx, id)
}

// List возвращает записи запусков
func (r *Runner) List(ctx context.Context, filter store.Filter) ([]*store.RunRecord, error) {
	return r.store.List(ctx, filter)
}

// Cancel отменяет активный запуск
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	run, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		run.cancel()
		return nil
	}

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return core.Errorf(core.ErrRunFinished, "run %s already %s", id, rec.State)
}

// Wait ждет завершения активного запуска и возвращает его запись
func (r *Runner) Wait(ctx context.Context, id string) (*store.RunRecord, error) {
	r.mu.Lock()
	run, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.store.Get(ctx, id)
}

// ActiveCount возвращает число выполняющихся запусков
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown отменяет активные запуски и ждет их завершения
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, run := range r.active {
		run.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) prepare(ctx context.Context, name string, input any, opts []StartOption) (*Workflow, *store.RunRecord, error) {
	o := startOptions{trigger: TriggerEmbedded}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	} else {
		if !r.reserve(o.id) {
			return nil, nil, core.Errorf(core.ErrAlreadyExists, "run %s already exists", o.id)
		}
		defer r.release(o.id)
		if _, err := r.store.Get(ctx, o.id); err == nil {
			return nil, nil, core.Errorf(core.ErrAlreadyExists, "run %s already exists", o.id)
		} else if !store.IsNotFound(err) {
			return nil, nil, err
		}
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, nil, core.NewError(core.ErrRunCancelled, "runner is shut down")
	}

	wf, err := r.registry.Get(name)
	if err != nil {
		return nil, nil, err
	}

	rec := &store.RunRecord{
		ID:        o.id,
		Workflow:  wf.Name(),
		State:     activity.RunPending,
		Trigger:   o.trigger,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Save(ctx, rec); err != nil {
		return nil, nil, core.Wrap(err, core.ErrInitializationFailed, "failed to save run")
	}
	return wf, rec, nil
}

// reserve занимает идентификатор на время проверки и сохранения записи
func (r *Runner) reserve(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.reserved[id]; taken {
		return false
	}
	r.reserved[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	delete(r.reserved, id)
	r.mu.Unlock()
}

func (r *Runner) track(id string, cancel context.CancelFunc) (*activeRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, core.NewError(core.ErrRunCancelled, "runner is shut down")
	}
	if _, exists := r.active[id]; exists {
		return nil, core.Errorf(core.ErrAlreadyExists, "run %s is already active", id)
	}
	run := &activeRun{cancel: cancel, done: make(chan struct{})}
	r.active[id] = run
	r.wg.Add(1)
	return run, nil
}

func (r *Runner) untrack(id string, run *activeRun) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
	run.cancel()
	close(run.done)
	r.wg.Done()
}

func (r *Runner) execute(ctx context.Context, wf *Workflow, rec *store.RunRecord) *store.RunRecord {
	logger := r.logger.WithFields(logrus.Fields{
		"workflow": wf.Name(),
		"run_id":   rec.ID,
	})

	if timeout, _ := wf.Definition.TimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	run := r.executor.NewRun(rec.ID, rec.Input)
	started := time.Now().UTC()
	rec.State = activity.RunRunning
	rec.StartedAt = &started
	r.save(ctx, logger, rec)
	r.publish(ctx, logger, rec, events.RunStarted, 0)
	if r.metrics != nil {
		r.metrics.RunStarted(ctx, wf.Name())
	}
	logger.Info("run started")

	exec := func(ctx context.Context) (any, error) {
		return run.Execute(ctx, wf.Activity)
	}
	var (
		result any
		err    error
	)
	if r.tracing != nil {
		result, err = r.tracing.TraceRun(ctx, wf.Name(), rec.ID, exec)
	} else {
		result, err = exec(ctx)
	}

	finished := time.Now().UTC()
	rec.State = run.State()
	rec.Result = result
	rec.Statuses = run.Statuses()
	rec.Variables = run.Variables()
	rec.FinishedAt = &finished
	if err != nil {
		rec.Error = err.Error()
	}
	duration := finished.Sub(started)

	// запись финального состояния не должна зависеть от отмены запуска
	saveCtx := context.WithoutCancel(ctx)
	r.save(saveCtx, logger, rec)

	eventType := events.RunCompleted
	switch rec.State {
	case activity.RunFailed:
		eventType = events.RunFailed
		logger.WithError(err).Warn("run failed")
	case activity.RunCancelled:
		eventType = events.RunCancelled
		logger.Info("run cancelled")
	default:
		logger.WithField("duration", duration).Info("run completed")
	}
	r.publish(saveCtx, logger, rec, eventType, duration)
	if r.metrics != nil {
		r.metrics.RecordRun(saveCtx, wf.Name(), string(rec.State), duration)
	}
	return rec
}

func (r *Runner) save(ctx context.Context, logger logrus.FieldLogger, rec *store.RunRecord) {
	if err := r.store.Save(ctx, rec); err != nil {
		logger.WithError(err).Error("failed to save run")
	}
}

func (r *Runner) publish(ctx context.Context, logger logrus.FieldLogger, rec *store.RunRecord, eventType string, duration time.Duration) {
	if r.publisher == nil {
		return
	}
	ev := events.NewRunEvent(eventType, rec.ID, rec.Workflow, string(rec.State))
	ev.Duration = duration
	ev.Error = rec.Error
	if rec.State.IsTerminal() {
		ev.Result = rec.Result
	}
	if correlationID := observability.ExtractCorrelationID(ctx); correlationID != "" {
		ev.WithCorrelationID(correlationID)
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		logger.WithError(err).Warn("failed to publish run event")
	}
}
