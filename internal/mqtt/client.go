package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/melcloud/internal/config"
)

const (
	connectTimeout   = 10 * time.Second
	operationTimeout = 5 * time.Second
	keepAlive        = 60 * time.Second
	disconnectQuiesce = 1000 // milliseconds
)

var ErrNotConnected = errors.New("mqtt: not connected")

// Handler receives the topic and payload of one message. Returned errors are logged.
type Handler func(topic string, payload []byte) error

// Logger is the subset of the service logger used here.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client wraps a paho connection with the configured topic prefix.
//
// Subscriptions are restored whenever the connection comes back.
type Client struct {
	client paho.Client
	cfg    config.MQTTConfig
	topics Topics
	logger Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// Connect dials the broker and announces the service as online.
func Connect(cfg *config.MQTTConfig, logger Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt: config is required")
	}
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{
		cfg:    *cfg,
		topics: NewTopics(cfg.TopicPrefix),
		logger: logger,
		subs:   make(map[string]Handler),
	}

	opts := clientOptions(c.cfg, c.topics)
	opts.OnConnect = func(paho.Client) {
		c.onConnect()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	}

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return c, nil
}

func clientOptions(cfg config.MQTTConfig, topics Topics) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	opts.SetWill(topics.Status(), StatusOffline, byte(cfg.QoS), true)
	return opts
}

func (c *Client) onConnect() {
	if err := c.Publish(c.topics.Status(), []byte(StatusOnline), true); err != nil {
		c.logger.Warn("mqtt status publish failed", "error", err)
	}

	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, handler := range c.subs {
		subs[topic] = handler
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		if err := c.subscribe(topic, handler); err != nil {
			c.logger.Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// Topics returns the topic layout for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// Publish sends payload with the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, byte(c.cfg.QoS), retained, payload)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("mqtt: publish %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic, which may contain wildcards.
func (c *Client) Subscribe(topic string, handler Handler) error {
	if handler == nil {
		return errors.New("mqtt: handler is required")
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if err := c.subscribe(topic, handler); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, byte(c.cfg.QoS), c.wrap(handler))
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("mqtt: subscribe %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *Client) wrap(handler Handler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && c.client.IsConnectionOpen()
}

// Close marks the service offline and disconnects.
func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	if c.IsConnected() {
		_ = c.Publish(c.topics.Status(), []byte(StatusOffline), true)
	}
	c.client.Disconnect(disconnectQuiesce)
}
