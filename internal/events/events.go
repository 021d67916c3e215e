// Package events announces finished workout sessions to downstream systems.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend-pushupcounter/internal/config"
)

// SessionCompleted is emitted once per session, whether it succeeded or not.
type SessionCompleted struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id,omitempty"`
	Status      string    `json:"status"`
	Count       int       `json:"count"`
	Frames      int       `json:"frames"`
	VideoName   string    `json:"video_name,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

func (e SessionCompleted) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, event SessionCompleted) error
	Close()
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, SessionCompleted) error { return nil }
func (Noop) Close()                                          {}

// New builds the publisher selected by EVENTS_BACKEND.
func New(ctx context.Context, cfg config.Config) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.EventsBackend)) {
	case "", "none", "noop":
		return Noop{}, nil
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBootstrapServers, cfg.KafkaTopic)
	case "mqtt":
		p := NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
}
