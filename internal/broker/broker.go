// Package broker wraps the MQTT client used for outbound notifications and
// inbound triggers.
//
// Subscriptions are remembered and replayed from the on-connect handler, so
// they survive automatic reconnects with a clean session.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/logging"
)

// ErrNotConnected is returned by Publish before Connect succeeds or after
// Close.
var ErrNotConnected = errors.New("mqtt client not connected")

// Handler receives one inbound message. It runs on the client's delivery
// goroutine and must not block for long.
type Handler func(topic string, payload []byte)

// Client is a connected MQTT session.
type Client struct {
	cfg    config.MQTTConfig
	logger *logging.Logger
	client mqtt.Client

	mu     sync.Mutex
	subs   map[string]Handler
	closed bool
}

// New builds a client from configuration. Nothing is dialed until Connect.
func New(cfg config.MQTTConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger.WithComponent("broker"),
		subs:   make(map[string]Handler),
	}
	c.client = mqtt.NewClient(c.options())
	return c
}

// BrokerURL returns the tcp:// URL for the configured broker.
func BrokerURL(cfg config.MQTTConfig) string {
	return fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)
}

func (c *Client) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(c.cfg))
	opts.SetClientID(c.cfg.ClientIDOrDefault())
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if c.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	}
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err.Error())
	})
	return opts
}

// onConnect replays every registered subscription.
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	c.logger.Info("mqtt connected", "broker", BrokerURL(c.cfg), "subscriptions", len(subs))
	for topic, h := range subs {
		tok := client.Subscribe(topic, c.qos(), wrap(h))
		go func(topic string, tok mqtt.Token) {
			if tok.WaitTimeout(c.timeout()) && tok.Error() != nil {
				c.logger.Error("mqtt resubscribe failed", "topic", topic, "error", tok.Error().Error())
			}
		}(topic, tok)
	}
}

func wrap(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS)
}

func (c *Client) timeout() time.Duration {
	if c.cfg.ConnectTimeout > 0 {
		return c.cfg.ConnectTimeout
	}
	return 10 * time.Second
}

// Connect dials the broker and waits for the session to open.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	if err := wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("connect to %s: %w", BrokerURL(c.cfg), err)
	}
	return nil
}

// Subscribe registers h for an exact topic. If the client is connected the
// subscription is sent now; otherwise it is sent on the next connect.
func (c *Client) Subscribe(ctx context.Context, topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	if err := wait(ctx, c.client.Subscribe(topic, c.qos(), wrap(h))); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Debug("mqtt subscribed", "topic", topic)
	return nil
}

// Publish sends payload to topic with the configured QoS and retain flag.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := wait(ctx, c.client.Publish(topic, c.qos(), c.cfg.Retain, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing up to 250ms for in-flight work.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("mqtt disconnected")
	}
}

// Topics returns the registered subscription topics.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	return topics
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
