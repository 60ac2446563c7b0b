package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// DefaultTopicPrefix namespaces every topic the publisher writes to.
	DefaultTopicPrefix = "opsguardian"

	notificationsTopic = "%s/notifications"
	approvalsTopic     = "%s/approvals/%s" // prefix, event type

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	eventBuffer    = 64
)

// ErrNotConnected is returned when publishing before Start succeeded.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTTClient is the subset of the paho client the publisher uses. A paho
// mqtt.Client satisfies it directly.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker      string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// MQTTPublisher publishes notifications and approval events to a broker.
type MQTTPublisher struct {
	opts   MQTTOptions
	logger *slog.Logger

	mu     sync.RWMutex
	client MQTTClient
	// Factory function for creating MQTT client
	clientFactory func(opts *mqtt.ClientOptions) MQTTClient

	events chan queuedEvent
}

type queuedEvent struct {
	eventType string
	v         any
}

// NewMQTTPublisher creates a publisher backed by the paho client.
func NewMQTTPublisher(opts MQTTOptions, logger *slog.Logger) *MQTTPublisher {
	return NewMQTTPublisherWithClient(opts, logger, func(o *mqtt.ClientOptions) MQTTClient {
		return mqtt.NewClient(o)
	})
}

// NewMQTTPublisherWithClient creates a publisher with a custom client factory (for testing)
func NewMQTTPublisherWithClient(opts MQTTOptions, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	if opts.Port == 0 {
		opts.Port = 1883
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("opsguardian-%d", time.Now().Unix())
	}
	return &MQTTPublisher{
		opts:          opts,
		logger:        logger.With("channel", "mqtt"),
		clientFactory: clientFactory,
		events:        make(chan queuedEvent, eventBuffer),
	}
}

func (m *MQTTPublisher) Name() string { return "mqtt" }

// Start connects to the broker.
func (m *MQTTPublisher) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", m.opts.Broker, m.opts.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(m.opts.ClientID)

	if m.opts.Username != "" {
		opts.SetUsername(m.opts.Username)
		opts.SetPassword(m.opts.Password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		m.logger.Info("mqtt connected")
	})

	client := m.clientFactory(opts)

	m.logger.Info("connecting to mqtt broker", "broker", brokerURL)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.logger.Info("mqtt publisher started")
	return nil
}

// Stop disconnects from the broker.
func (m *MQTTPublisher) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.client = nil
	return nil
}

// Notify publishes text to the notifications topic.
func (m *MQTTPublisher) Notify(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"content": text,
		"sent_at": time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return m.Publish(ctx, fmt.Sprintf(notificationsTopic, m.opts.TopicPrefix), payload)
}

// PublishEvent publishes v as JSON under <prefix>/approvals/<eventType>.
func (m *MQTTPublisher) PublishEvent(ctx context.Context, eventType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return m.Publish(ctx, fmt.Sprintf(approvalsTopic, m.opts.TopicPrefix, eventType), payload)
}

// EnqueueEvent queues an event for RunEvents without blocking. It reports
// false and drops the event when the buffer is full.
func (m *MQTTPublisher) EnqueueEvent(eventType string, v any) bool {
	select {
	case m.events <- queuedEvent{eventType: eventType, v: v}:
		return true
	default:
		m.logger.Warn("mqtt event buffer full, dropping event", "type", eventType)
		return false
	}
}

// RunEvents publishes queued events one at a time until ctx is cancelled.
// Events queued while the broker is unreachable are discarded.
func (m *MQTTPublisher) RunEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := m.PublishEvent(pctx, ev.eventType, ev.v)
			cancel()
			if err != nil && !errors.Is(err, ErrNotConnected) && ctx.Err() == nil {
				m.logger.Warn("failed to publish approval event", "type", ev.eventType, "error", err)
			}
		}
	}
}

// Publish sends payload with QoS 1 (at least once delivery).
func (m *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	m.logger.Debug("message published", "topic", topic, "size", len(payload))
	return nil
}
