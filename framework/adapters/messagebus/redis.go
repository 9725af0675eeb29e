package messagebus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig конфигурация для Redis Streams адаптера
type RedisConfig struct {
	Addr          string        `yaml:"addr" env:"BUS_REDIS_ADDR"`
	Password      string        `yaml:"password" env:"BUS_REDIS_PASSWORD"`
	DB            int           `yaml:"db"`
	StreamPrefix  string        `yaml:"stream_prefix"`
	ConsumerGroup string        `yaml:"consumer_group"`
	StreamMaxLen  int64         `yaml:"stream_max_len"` // 0 - без ограничений
	Block         time.Duration `yaml:"block"`
	// ClaimMinIdle время, после которого неподтвержденное сообщение забирается
	// на повторную обработку. 0 отключает повторную доставку.
	ClaimMinIdle time.Duration `yaml:"claim_min_idle"`
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		StreamPrefix:  "activities",
		ConsumerGroup: "activities",
		StreamMaxLen:  10000,
		Block:         time.Second,
		ClaimMinIdle:  30 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("Addr cannot be empty")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("ConsumerGroup cannot be empty")
	}
	if c.ClaimMinIdle < 0 {
		return fmt.Errorf("ClaimMinIdle must be non-negative")
	}
	return nil
}

// RedisAdapter реализация MessageBus через Redis Streams
type RedisAdapter struct {
	config   RedisConfig
	logger   logrus.FieldLogger
	client   *redis.Client
	consumer string
	cancels  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewRedisAdapter создает Redis Streams адаптер
func NewRedisAdapter(config RedisConfig, logger logrus.FieldLogger) (*RedisAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisAdapter{
		config:   config,
		logger:   logger.WithField("component", "redis-bus"),
		consumer: "consumer-" + uuid.NewString(),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// Name возвращает имя компонента
func (r *RedisAdapter) Name() string {
	return "redis-bus"
}

// Start подключается к Redis
func (r *RedisAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       r.config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	r.client = client
	return nil
}

// Stop останавливает чтение потоков и закрывает клиента
func (r *RedisAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	for stream, cancel := range r.cancels {
		cancel()
		delete(r.cancels, stream)
	}
	client := r.client
	r.client = nil
	r.mu.Unlock()

	r.wg.Wait()
	if client != nil {
		return client.Close()
	}
	return nil
}

// IsRunning проверяет, подключен ли адаптер
func (r *RedisAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client != nil
}

// HealthCheck проверяет соединение
func (r *RedisAdapter) HealthCheck(ctx context.Context) error {
	client, err := r.connection()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (r *RedisAdapter) connection() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, errNotRunning
	}
	return r.client, nil
}

func (r *RedisAdapter) stream(subject string) string {
	if r.config.StreamPrefix == "" {
		return subject
	}
	return r.config.StreamPrefix + ":" + subject
}

// Publish добавляет сообщение в поток subject
func (r *RedisAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	client, err := r.connection()
	if err != nil {
		return err
	}

	values := map[string]interface{}{"data": data}
	for k, v := range headers {
		values["h:"+k] = v
	}
	args := &redis.XAddArgs{Stream: r.stream(subject), Values: values}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}
	if err := client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe читает поток subject в группе потребителей
func (r *RedisAdapter) Subscribe(ctx context.Context, subject string, handler MessageHandler) error {
	client, err := r.connection()
	if err != nil {
		return err
	}
	stream := r.stream(subject)

	err = client.XGroupCreateMkStream(ctx, stream, r.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if prev, ok := r.cancels[stream]; ok {
		prev()
	}
	r.cancels[stream] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.consume(readCtx, client, stream, subject, handler)
	}()
	return nil
}

func (r *RedisAdapter) consume(ctx context.Context, client *redis.Client, stream, subject string, handler MessageHandler) {
	var lastClaim time.Time
	for ctx.Err() == nil {
		if r.config.ClaimMinIdle > 0 && time.Since(lastClaim) >= r.config.ClaimMinIdle {
			lastClaim = time.Now()
			r.reclaim(ctx, client, stream, subject, handler)
		}

		res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.config.ConsumerGroup,
			Consumer: r.consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    r.config.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.WithError(err).Warn("failed to read stream")
			time.Sleep(r.config.Block)
			continue
		}

		for _, s := range res {
			for _, entry := range s.Messages {
				r.deliver(ctx, client, stream, subject, entry, handler)
			}
		}
	}
}

// reclaim забирает сообщения, которые другие потребители группы (или этот
// до перезапуска) получили, но не подтвердили за ClaimMinIdle
func (r *RedisAdapter) reclaim(ctx context.Context, client *redis.Client, stream, subject string, handler MessageHandler) {
	start := "0-0"
	for ctx.Err() == nil {
		entries, next, err := client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    r.config.ConsumerGroup,
			Consumer: r.consumer,
			MinIdle:  r.config.ClaimMinIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.WithError(err).WithField("stream", stream).Warn("failed to claim pending messages")
			}
			return
		}
		for _, entry := range entries {
			r.deliver(ctx, client, stream, subject, entry, handler)
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

// deliver передает запись обработчику и подтверждает ее только при успехе
func (r *RedisAdapter) deliver(ctx context.Context, client *redis.Client, stream, subject string, entry redis.XMessage, handler MessageHandler) {
	if err := handler(ctx, redisMessage(subject, entry)); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"stream": stream,
			"id":     entry.ID,
		}).Warn("message handler failed, left pending")
		return
	}
	if err := client.XAck(ctx, stream, r.config.ConsumerGroup, entry.ID).Err(); err != nil {
		r.logger.WithError(err).WithField("stream", stream).Warn("failed to ack message")
	}
}

func redisMessage(subject string, entry redis.XMessage) *Message {
	msg := &Message{Subject: subject, Headers: make(map[string]string)}
	for k, v := range entry.Values {
		str, _ := v.(string)
		if k == "data" {
			msg.Data = []byte(str)
		} else if strings.HasPrefix(k, "h:") {
			msg.Headers[strings.TrimPrefix(k, "h:")] = str
		}
	}
	return msg
}

// Unsubscribe останавливает чтение потока
func (r *RedisAdapter) Unsubscribe(subject string) error {
	stream := r.stream(subject)
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[stream]; ok {
		cancel()
		delete(r.cancels, stream)
	}
	return nil
}
