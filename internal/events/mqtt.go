package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttQoS byte = 1

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

var newMQTTClient = mqtt.NewClient

// MQTTPublisher publishes events to <topic>/<session_id> with QoS 1.
type MQTTPublisher struct {
	broker   string
	clientID string
	topic    string
	client   mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

func NewMQTTPublisher(broker, clientID, topic string) *MQTTPublisher {
	return &MQTTPublisher{broker: broker, clientID: clientID, topic: topic}
}

func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	broker := p.broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts.AddBroker(broker)
	opts.SetClientID(p.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		slog.Info("mqtt connection established", "broker", broker, "client_id", p.clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	p.client = newMQTTClient(opts)

	token := p.client.Connect()
	timeout := mqttConnectTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	p.setConnected(true)
	return nil
}

func (p *MQTTPublisher) Publish(_ context.Context, event SessionCompleted) error {
	if !p.isConnected() {
		p.recordError()
		return ErrNotConnected
	}

	payload, err := event.ToJSON()
	if err != nil {
		p.recordError()
		return fmt.Errorf("encode event: %w", err)
	}

	topic := p.topic + "/" + event.SessionID
	token := p.client.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.recordError()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		p.recordError()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	slog.Debug("session event published", "topic", topic, "size", len(payload))
	return nil
}

func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	p.setConnected(false)
}

type MQTTStats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

func (p *MQTTPublisher) Stats() MQTTStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return MQTTStats{Connected: p.connected, Published: p.published, Errors: p.errors}
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) recordError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
