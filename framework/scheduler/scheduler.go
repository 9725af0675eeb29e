// Package scheduler запускает рабочие процессы по расписанию cron.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/akriventsev/activities/framework/core"
	"github.com/akriventsev/activities/framework/metrics"
	"github.com/akriventsev/activities/framework/store"
	"github.com/akriventsev/activities/framework/workflow"
)

// Job задание расписания
type Job struct {
	Name     string `yaml:"name" json:"name"`
	Spec     string `yaml:"spec" json:"spec"` // cron выражение, секунды необязательны, поддерживаются @every и @daily
	Workflow string `yaml:"workflow" json:"workflow"`
	Input    any    `yaml:"input,omitempty" json:"input,omitempty"`
}

// Validate проверяет задание
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if j.Workflow == "" {
		return fmt.Errorf("job %s: workflow cannot be empty", j.Name)
	}
	if _, err := parser.Parse(j.Spec); err != nil {
		return fmt.Errorf("job %s: invalid spec %q: %w", j.Name, j.Spec, err)
	}
	return nil
}

// Config конфигурация планировщика
type Config struct {
	Enabled  bool   `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	Location string `yaml:"location" env:"SCHEDULER_LOCATION"`
	Jobs     []Job  `yaml:"jobs"`
}

// DefaultConfig возвращает конфигурацию по умолчанию. Планировщик включается явно.
func DefaultConfig() Config {
	return Config{Enabled: false, Location: "UTC"}
}

// Validate проверяет конфигурацию и задания
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid location: %w", err)
	}
	seen := make(map[string]bool, len(c.Jobs))
	for _, job := range c.Jobs {
		if err := job.Validate(); err != nil {
			return err
		}
		if seen[job.Name] {
			return fmt.Errorf("duplicate job %s", job.Name)
		}
		seen[job.Name] = true
	}
	return nil
}

// Starter запускает рабочие процессы, реализуется workflow.Runner
type Starter interface {
	Start(ctx context.Context, name string, input any, opts ...workflow.StartOption) (*store.RunRecord, error)
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type entry struct {
	job Job
	id  cron.EntryID
}

// Scheduler запускает задания по расписанию
type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	metrics *metrics.Metrics
	logger  logrus.FieldLogger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	entries map[string]entry
	running bool
}

// New создает планировщик и регистрирует задания из конфигурации
func New(config Config, starter Starter) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	loc, _ := time.LoadLocation(config.Location)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithParser(parser)),
		starter: starter,
		logger:  logrus.StandardLogger(),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]entry),
	}
	for _, job := range config.Jobs {
		if err := s.Add(job); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

// WithLogger устанавливает логгер
func (s *Scheduler) WithLogger(logger logrus.FieldLogger) *Scheduler {
	s.logger = logger
	return s
}

// WithMetrics подключает метрики триггеров
func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Add регистрирует задание
func (s *Scheduler) Add(job Job) error {
	if err := job.Validate(); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid job")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return core.Errorf(core.ErrAlreadyExists, "job %s already registered", job.Name)
	}
	id, err := s.cron.AddFunc(job.Spec, func() {
		_, _ = s.fire(s.ctx, job)
	})
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to schedule job")
	}
	s.entries[job.Name] = entry{job: job, id: id}
	return nil
}

// Remove удаляет задание
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return core.Errorf(core.ErrNotFound, "job %s not found", name)
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	return nil
}

// Jobs возвращает задания, отсортированные по имени
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.entries))
	for _, e := range s.entries {
		jobs = append(jobs, e.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Next возвращает время следующего запуска задания
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(e.id).Next
	return next, !next.IsZero()
}

// Trigger немедленно запускает задание вне расписания
func (s *Scheduler) Trigger(ctx context.Context, name string) (*store.RunRecord, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, core.Errorf(core.ErrNotFound, "job %s not found", name)
	}
	return s.fire(ctx, e.job)
}

func (s *Scheduler) fire(ctx context.Context, job Job) (*store.RunRecord, error) {
	logger := s.logger.WithFields(logrus.Fields{"job": job.Name, "workflow": job.Workflow})
	rec, err := s.starter.Start(ctx, job.Workflow, job.Input, workflow.WithTrigger(workflow.TriggerSchedule))
	if s.metrics != nil {
		s.metrics.RecordTrigger(ctx, "schedule", job.Workflow, err == nil)
	}
	if err != nil {
		logger.WithError(err).Warn("scheduled run failed to start")
		return nil, err
	}
	logger.WithField("run_id", rec.ID).Info("scheduled run started")
	return rec, nil
}

// Name возвращает имя компонента
func (s *Scheduler) Name() string {
	return "scheduler"
}

// Type возвращает тип компонента
func (s *Scheduler) Type() core.ComponentType {
	return core.ComponentTypeTrigger
}

// Start запускает планировщик
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	s.logger.WithField("jobs", len(s.entries)).Info("scheduler started")
	return nil
}

// Stop останавливает планировщик и ждет выполняющиеся задания
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	defer s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли планировщик
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
