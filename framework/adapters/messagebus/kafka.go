package messagebus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/akriventsev/activities/framework/events"
)

// KafkaConfig конфигурация для Kafka адаптера
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	GroupID        string        `yaml:"group_id" env:"KAFKA_GROUP_ID"`
	Compression    string        `yaml:"compression"` // none, gzip, snappy, lz4, zstd
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MaxWait        time.Duration `yaml:"max_wait"`
	CommitInterval time.Duration `yaml:"commit_interval"`

	// Retry повторы обработчика до фиксации смещения. После исчерпания
	// попыток сообщение фиксируется и пропускается.
	Retry events.RetryConfig `yaml:"retry"`
}

// DefaultKafkaConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "activities",
		Compression:    "snappy",
		BatchTimeout:   10 * time.Millisecond,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
		Retry:          events.DefaultRetryConfig(),
	}
}

// Validate проверяет корректность конфигурации
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for i, broker := range c.Brokers {
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("broker[%d] must be in format host:port", i)
		}
	}
	return nil
}

// KafkaAdapter реализация MessageBus через Kafka. Subject соответствует топику.
type KafkaAdapter struct {
	config  KafkaConfig
	logger  logrus.FieldLogger
	writer  *kafka.Writer
	readers map[string]*kafka.Reader
	cancels map[string]context.CancelFunc
	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// NewKafkaAdapter создает Kafka адаптер
func NewKafkaAdapter(config KafkaConfig, logger logrus.FieldLogger) (*KafkaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KafkaAdapter{
		config:  config,
		logger:  logger.WithField("component", "kafka-bus"),
		readers: make(map[string]*kafka.Reader),
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

func compression(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

// Name возвращает имя компонента
func (k *KafkaAdapter) Name() string {
	return "kafka-bus"
}

// Start создает writer
func (k *KafkaAdapter) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}
	k.writer = &kafka.Writer{
		Addr:                   kafka.TCP(k.config.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           k.config.BatchTimeout,
		Compression:            compression(k.config.Compression),
		AllowAutoTopicCreation: true,
	}
	k.running = true
	return nil
}

// Stop закрывает readers и writer
func (k *KafkaAdapter) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	for topic, cancel := range k.cancels {
		cancel()
		delete(k.cancels, topic)
	}
	k.running = false
	writer := k.writer
	k.writer = nil
	k.mu.Unlock()

	k.wg.Wait()
	if writer != nil {
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to close writer: %w", err)
		}
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер
func (k *KafkaAdapter) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// HealthCheck проверяет доступность первого брокера
func (k *KafkaAdapter) HealthCheck(ctx context.Context) error {
	if !k.IsRunning() {
		return errNotRunning
	}
	conn, err := kafka.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("failed to read brokers: %w", err)
	}
	return nil
}

// Publish публикует сообщение в топик subject
func (k *KafkaAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	k.mu.RLock()
	writer := k.writer
	k.mu.RUnlock()
	if writer == nil {
		return errNotRunning
	}

	msg := kafka.Message{Topic: subject, Value: data}
	for key, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(v)})
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe читает топик subject в группе потребителей.
// Смещение фиксируется только после успешной обработки.
func (k *KafkaAdapter) Subscribe(ctx context.Context, subject string, handler MessageHandler) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return errNotRunning
	}
	if _, exists := k.readers[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.config.Brokers,
		Topic:          subject,
		GroupID:        k.config.GroupID,
		MaxWait:        k.config.MaxWait,
		CommitInterval: k.config.CommitInterval,
		StartOffset:    kafka.LastOffset,
	})
	readCtx, cancel := context.WithCancel(ctx)
	k.readers[subject] = reader
	k.cancels[subject] = cancel

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer reader.Close()
		k.consume(readCtx, reader, handler)
	}()
	return nil
}

func (k *KafkaAdapter) consume(ctx context.Context, reader *kafka.Reader, handler MessageHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			k.logger.WithError(err).Warn("failed to fetch message")
			continue
		}

		m := &Message{
			Subject: msg.Topic,
			Data:    msg.Value,
			Headers: make(map[string]string, len(msg.Headers)),
		}
		for _, h := range msg.Headers {
			m.Headers[h.Key] = string(h.Value)
		}
		if err := deliverWithRetry(ctx, handler, m, k.config.Retry); err != nil {
			if ctx.Err() != nil {
				return
			}
			k.logger.WithError(err).WithFields(logrus.Fields{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("message dropped after handler retries")
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			k.logger.WithError(err).Warn("failed to commit message")
		}
	}
}

// Unsubscribe останавливает чтение топика
func (k *KafkaAdapter) Unsubscribe(subject string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if cancel, ok := k.cancels[subject]; ok {
		cancel()
	}
	delete(k.cancels, subject)
	delete(k.readers, subject)
	return nil
}
