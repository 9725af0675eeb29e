package messagebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSConfig конфигурация для NATS адаптера
type NATSConfig struct {
	URL               string        `yaml:"url" env:"NATS_URL"`
	QueueGroup        string        `yaml:"queue_group" env:"NATS_QUEUE_GROUP"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectWait     time.Duration `yaml:"reconnect_wait"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	Token             string        `yaml:"token" env:"NATS_TOKEN"`
	Username          string        `yaml:"username" env:"NATS_USERNAME"`
	Password          string        `yaml:"password" env:"NATS_PASSWORD"`
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		QueueGroup:        "activities",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		ConnectionTimeout: 5 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("URL must start with nats:// or tls://")
	}
	return nil
}

// NATSAdapter реализация MessageBus через NATS
type NATSAdapter struct {
	config NATSConfig
	logger logrus.FieldLogger
	conn   *nats.Conn
	subs   map[string]*nats.Subscription
	mu     sync.RWMutex
}

// NewNATSAdapter создает NATS адаптер. Подключение выполняется в Start.
func NewNATSAdapter(config NATSConfig, logger logrus.FieldLogger) (*NATSAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NATSAdapter{
		config: config,
		logger: logger.WithField("component", "nats-bus"),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// NewNATSAdapterFromConn создает NATS адаптер из существующего подключения
func NewNATSAdapterFromConn(conn *nats.Conn) *NATSAdapter {
	return &NATSAdapter{
		config: DefaultNATSConfig(),
		logger: logrus.StandardLogger().WithField("component", "nats-bus"),
		conn:   conn,
		subs:   make(map[string]*nats.Subscription),
	}
}

// Name возвращает имя компонента
func (n *NATSAdapter) Name() string {
	return "nats-bus"
}

// Start подключается к NATS
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		return nil
	}

	opts := []nats.Option{
		nats.Name("activities"),
		nats.MaxReconnects(n.config.MaxReconnects),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.Timeout(n.config.ConnectionTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				n.logger.WithError(err).Warn("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.WithField("url", nc.ConnectedUrl()).Info("reconnected to NATS")
		}),
	}
	if n.config.Token != "" {
		opts = append(opts, nats.Token(n.config.Token))
	}
	if n.config.Username != "" && n.config.Password != "" {
		opts = append(opts, nats.UserInfo(n.config.Username, n.config.Password))
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.conn = conn
	return nil
}

// Stop отписывается и закрывает соединение с drain
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}

	for subject, sub := range n.subs {
		_ = sub.Unsubscribe()
		delete(n.subs, subject)
	}
	err := n.conn.Drain()
	n.conn.Close()
	n.conn = nil
	if err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// IsRunning проверяет, подключен ли адаптер
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conn != nil && n.conn.IsConnected()
}

// HealthCheck проверяет соединение
func (n *NATSAdapter) HealthCheck(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.conn == nil {
		return errNotRunning
	}
	if status := n.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection status: %s", status)
	}
	return nil
}

func (n *NATSAdapter) connection() (*nats.Conn, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.conn == nil {
		return nil, errNotRunning
	}
	return n.conn, nil
}

// Publish публикует сообщение в subject
func (n *NATSAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	conn, err := n.connection()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if err := conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe подписывается на subject; при заданной QueueGroup сообщения
// балансируются между экземплярами сервиса
func (n *NATSAdapter) Subscribe(ctx context.Context, subject string, handler MessageHandler) error {
	conn, err := n.connection()
	if err != nil {
		return err
	}

	cb := func(msg *nats.Msg) {
		m := &Message{
			Subject: msg.Subject,
			Data:    msg.Data,
			Headers: make(map[string]string, len(msg.Header)),
		}
		for k := range msg.Header {
			m.Headers[k] = msg.Header.Get(k)
		}
		if msg.Reply != "" && m.Headers[HeaderReplyTo] == "" {
			m.Headers[HeaderReplyTo] = msg.Reply
		}
		if err := handler(ctx, m); err != nil {
			n.logger.WithError(err).WithField("subject", msg.Subject).Warn("message handler failed")
		}
	}

	var sub *nats.Subscription
	if n.config.QueueGroup != "" {
		sub, err = conn.QueueSubscribe(subject, n.config.QueueGroup, cb)
	} else {
		sub, err = conn.Subscribe(subject, cb)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.mu.Lock()
	n.subs[subject] = sub
	n.mu.Unlock()
	return nil
}

// Unsubscribe отписывается от subject
func (n *NATSAdapter) Unsubscribe(subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, exists := n.subs[subject]
	if !exists {
		return nil
	}
	delete(n.subs, subject)
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}
