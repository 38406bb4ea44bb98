package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/tilefeed/internal/types"
)

const (
	DefaultFramesTopic = "pokemon.streams.frames"
	DefaultDialogTopic = "pokemon.streams.dialog"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker         string // host:port
	ClientID       string
	FramesTopic    string
	DialogTopic    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTEmitter publishes events to an MQTT broker. The client reconnects on
// its own; while disconnected, publishes fail fast and are counted.
type MQTTEmitter struct {
	cfg   MQTTConfig
	codec Codec

	// Client is exported so tests and tools can inject a client.
	Client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter; Connect must be called before publishing.
func NewMQTTEmitter(cfg MQTTConfig, codec Codec) *MQTTEmitter {
	if cfg.FramesTopic == "" {
		cfg.FramesTopic = DefaultFramesTopic
	}
	if cfg.DialogTopic == "" {
		cfg.DialogTopic = DefaultDialogTopic
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if codec == nil {
		codec = JSON
	}
	return &MQTTEmitter{
		cfg:       cfg,
		codec:     codec,
		published: make(map[string]uint64),
	}
}

// brokerURL adds tcp:// to a bare host:port; tcp, ssl, ws and wss URLs pass
// through.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connected",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)
	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(e.cfg.ConnectTimeout):
		return fmt.Errorf("emitter: mqtt connect timeout after %v", e.cfg.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connect: %w", err)
	}

	e.setConnected(true)
	return nil
}

// PublishFrame implements Publisher.
func (e *MQTTEmitter) PublishFrame(ev types.FrameEvent) error {
	return e.publish(e.cfg.FramesTopic, ev)
}

// PublishDialog implements Publisher.
func (e *MQTTEmitter) PublishDialog(ev types.DialogEvent) error {
	return e.publish(e.cfg.DialogTopic, ev)
}

func (e *MQTTEmitter) publish(topic string, v any) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	payload, err := e.codec.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal %s: %w", e.codec.Name(), err)
	}

	token := e.Client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: published", "topic", topic, "size", len(payload))
	return nil
}

// Close disconnects from the broker.
func (e *MQTTEmitter) Close() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
