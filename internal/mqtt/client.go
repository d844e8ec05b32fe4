// Package mqtt subscribes to zigbee2mqtt device topics.
//
// One broker subscription is made per topic; every handler registered for
// the topic receives each message. Subscriptions are restored on reconnect.
package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler is called for each message received on a subscribed topic.
// Handlers run on paho's goroutines and should hand work off quickly.
type MessageHandler func(topic string, payload []byte) error

// Subscription is an active topic subscription
type Subscription interface {
	Unsubscribe() error
}

// Subscriber is implemented by Client
type Subscriber interface {
	Subscribe(topic string, handler MessageHandler) (Subscription, error)
}

type handlerEntry struct {
	id      int
	handler MessageHandler
}

// router fans a topic's messages out to its handlers
type router struct {
	mu     sync.RWMutex
	topics map[string][]handlerEntry
	nextID int
	logger *zap.Logger
}

func newRouter(logger *zap.Logger) *router {
	return &router{topics: make(map[string][]handlerEntry), logger: logger}
}

// add registers a handler and reports whether it is the first for the topic
func (r *router) add(topic string, handler MessageHandler) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	first := len(r.topics[topic]) == 0
	r.topics[topic] = append(r.topics[topic], handlerEntry{id: r.nextID, handler: handler})
	return r.nextID, first
}

// remove drops a handler and reports whether the topic has none left
func (r *router) remove(topic string, id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.topics[topic]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.topics, topic)
		return true
	}
	r.topics[topic] = entries
	return false
}

func (r *router) topicNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics))
	for t := range r.topics {
		out = append(out, t)
	}
	return out
}

func (r *router) dispatch(topic string, payload []byte) {
	r.mu.RLock()
	entries := append([]handlerEntry(nil), r.topics[topic]...)
	r.mu.RUnlock()

	for _, e := range entries {
		r.invoke(e.handler, topic, payload)
	}
}

func (r *router) invoke(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("MQTT handler panic recovered",
				zap.String("topic", topic),
				zap.Any("panic", rec))
		}
	}()

	if err := handler(topic, payload); err != nil {
		r.logger.Warn("MQTT handler returned error",
			zap.String("topic", topic),
			zap.Error(err))
	}
}

// Client wraps paho.mqtt.golang
type Client struct {
	client pahomqtt.Client
	router *router
	logger *zap.Logger

	connected bool
	connMu    sync.RWMutex
}

// Connect establishes a connection to the broker
func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	logger = logger.Named("mqtt")
	c := &Client{
		router: newRouter(logger),
		logger: logger,
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// the connect handler runs asynchronously
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	logger.Info("Connected to MQTT broker",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port))
	return c, nil
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	for _, topic := range c.router.topicNames() {
		c.client.Subscribe(topic, subscribeQoS, c.pahoHandler())
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.logger.Warn("MQTT connection lost", zap.Error(err))
}

func (c *Client) pahoHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.router.dispatch(msg.Topic(), msg.Payload())
	}
}

// IsConnected returns the current connection state
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Subscribe registers a handler for a topic
func (c *Client) Subscribe(topic string, handler MessageHandler) (Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	id, first := c.router.add(topic, handler)
	if first {
		token := c.client.Subscribe(topic, subscribeQoS, c.pahoHandler())
		if !token.WaitTimeout(defaultSubscribeTimeout) {
			c.router.remove(topic, id)
			return nil, fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultSubscribeTimeout)
		}
		if err := token.Error(); err != nil {
			c.router.remove(topic, id)
			return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
	}

	c.logger.Debug("Subscribed", zap.String("topic", topic))
	return &subscription{client: c, topic: topic, id: id}, nil
}

type subscription struct {
	client *Client
	topic  string
	id     int
	once   sync.Once
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		if s.client.router.remove(s.topic, s.id) && s.client.IsConnected() {
			token := s.client.client.Unsubscribe(s.topic)
			if token.WaitTimeout(defaultSubscribeTimeout) {
				err = token.Error()
			}
		}
	})
	return err
}

// Close disconnects from the broker
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logger.Info("Disconnected from MQTT broker")
	return nil
}
