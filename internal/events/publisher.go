// Package events publishes finished rounds to a message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/MJE43/celo-rps/internal/games"
)

// TypeRoundFinished is the only event type emitted today.
const TypeRoundFinished = "round.finished"

// RoundEvent is the envelope published for every finished round.
type RoundEvent struct {
	ID        uuid.UUID   `json:"eventId"`
	Type      string      `json:"eventType"`
	SessionID string      `json:"sessionId"`
	Mode      string      `json:"mode"`
	Round     games.Round `json:"round"`
	TxHash    string      `json:"txHash,omitempty"`
	Player    string      `json:"player,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewRoundEvent stamps a fresh event id and the current time.
func NewRoundEvent(sessionID, mode string, round games.Round) RoundEvent {
	return RoundEvent{
		ID:        uuid.New(),
		Type:      TypeRoundFinished,
		SessionID: sessionID,
		Mode:      mode,
		Round:     round,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers round events.
type Publisher interface {
	Publish(ctx context.Context, ev RoundEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, RoundEvent) error { return nil }
func (NopPublisher) Close() error                              { return nil }

// NATSConfig configures the core NATS publisher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig mirrors the nats.go client defaults with infinite reconnects.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "rps.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher sends events on <prefix>.<type>.
type NATSPublisher struct {
	conn   msgPublisher
	close  func()
	prefix string
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}
	opts := []nats.Option{
		nats.Name("celo-rps"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Str("prefix", cfg.SubjectPrefix).Msg("NATS publisher connected")

	return &NATSPublisher{
		conn: nc,
		close: func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		},
		prefix: cfg.SubjectPrefix,
	}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", p.prefix, eventType)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev RoundEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: p.Subject(ev.Type),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{ev.Type},
			"Event-ID":   []string{ev.ID.String()},
			"Session-ID": []string{ev.SessionID},
		},
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", ev.ID.String()).
		Str("session_id", ev.SessionID).
		Msg("published round event")
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
