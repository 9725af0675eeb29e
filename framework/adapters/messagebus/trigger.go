package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akriventsev/activities/framework/metrics"
	"github.com/akriventsev/activities/framework/store"
	"github.com/akriventsev/activities/framework/workflow"
)

// StartRequest тело сообщения запуска рабочего процесса
type StartRequest struct {
	Workflow string `json:"workflow"`
	Input    any    `json:"input,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// Reply ответ на сообщение запуска, публикуется в subject из заголовка reply_to
type Reply struct {
	Run   *store.RunRecord `json:"run,omitempty"`
	Error string           `json:"error,omitempty"`
}

// Trigger запускает рабочие процессы по сообщениям из <prefix>.start
type Trigger struct {
	bus          MessageBus
	runner       *workflow.Runner
	prefix       string
	metrics      *metrics.Metrics
	logger       logrus.FieldLogger
	replyTimeout time.Duration
	wg           sync.WaitGroup
}

// NewTrigger создает триггер
func NewTrigger(bus MessageBus, runner *workflow.Runner, prefix string) *Trigger {
	return &Trigger{
		bus:          bus,
		runner:       runner,
		prefix:       prefix,
		logger:       logrus.StandardLogger(),
		replyTimeout: 5 * time.Minute,
	}
}

// WithMetrics подключает метрики триггеров
func (t *Trigger) WithMetrics(m *metrics.Metrics) *Trigger {
	t.metrics = m
	return t
}

// WithLogger устанавливает логгер
func (t *Trigger) WithLogger(logger logrus.FieldLogger) *Trigger {
	t.logger = logger
	return t
}

// WithReplyTimeout ограничивает ожидание завершения запуска перед ответом
func (t *Trigger) WithReplyTimeout(timeout time.Duration) *Trigger {
	t.replyTimeout = timeout
	return t
}

// Subject возвращает subject, на который подписан триггер
func (t *Trigger) Subject() string {
	return t.prefix + ".start"
}

// Name возвращает имя компонента
func (t *Trigger) Name() string {
	return "bus-trigger"
}

// Start подписывается на сообщения запуска
func (t *Trigger) Start(ctx context.Context) error {
	if err := t.bus.Subscribe(ctx, t.Subject(), t.handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", t.Subject(), err)
	}
	t.logger.WithField("subject", t.Subject()).Info("bus trigger started")
	return nil
}

// Stop отписывается и ждет отправки отложенных ответов
func (t *Trigger) Stop(ctx context.Context) error {
	err := t.bus.Unsubscribe(t.Subject())
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (t *Trigger) handle(ctx context.Context, msg *Message) error {
	var req StartRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		t.record(ctx, "", false)
		t.reply(ctx, msg, &Reply{Error: fmt.Sprintf("invalid start request: %v", err)})
		return fmt.Errorf("invalid start request: %w", err)
	}
	if req.Workflow == "" {
		req.Workflow = msg.Header(HeaderWorkflow)
	}
	if req.RunID == "" {
		req.RunID = msg.Header(HeaderRunID)
	}
	ctx = ExtractTraceHeaders(ctx, msg.Headers)

	opts := []workflow.StartOption{workflow.WithTrigger(workflow.TriggerBus)}
	if req.RunID != "" {
		opts = append(opts, workflow.WithRunID(req.RunID))
	}

	logger := t.logger.WithFields(logrus.Fields{"workflow": req.Workflow, "subject": msg.Subject})
	rec, err := t.runner.Start(ctx, req.Workflow, req.Input, opts...)
	t.record(ctx, req.Workflow, err == nil)
	if err != nil {
		logger.WithError(err).Warn("failed to start run from message")
		t.reply(ctx, msg, &Reply{Error: err.Error()})
		return err
	}
	logger.WithField("run_id", rec.ID).Debug("run started from message")

	if msg.Header(HeaderReplyTo) == "" {
		return nil
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.replyTimeout)
		defer cancel()
		final, err := t.runner.Wait(waitCtx, rec.ID)
		if err != nil {
			t.reply(waitCtx, msg, &Reply{Run: rec, Error: err.Error()})
			return
		}
		t.reply(waitCtx, msg, &Reply{Run: final})
	}()
	return nil
}

func (t *Trigger) reply(ctx context.Context, msg *Message, reply *Reply) {
	subject := msg.Header(HeaderReplyTo)
	if subject == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		t.logger.WithError(err).Error("failed to encode reply")
		return
	}
	headers := map[string]string{}
	if id := msg.Header(HeaderCorrelationID); id != "" {
		headers[HeaderCorrelationID] = id
	}
	if reply.Run != nil {
		headers[HeaderRunID] = reply.Run.ID
	}
	InjectTraceHeaders(ctx, headers)
	if err := t.bus.Publish(ctx, subject, data, headers); err != nil {
		t.logger.WithError(err).WithField("subject", subject).Warn("failed to publish reply")
	}
}

func (t *Trigger) record(ctx context.Context, workflow string, success bool) {
	if t.metrics != nil {
		t.metrics.RecordTrigger(ctx, "bus", workflow, success)
	}
}
