package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marcelojr/crowdpulse/internal/domain"
)

// Relay mirrors room broadcasts across sibling processes via Redis pub/sub so
// dashboards and overlays served elsewhere still receive updates. The single
// tally authority stays in one process; the relay carries read-side events only.
type Relay struct {
	client *redis.Client
	prefix string
	origin string
}

// Envelope is the wire form of one relayed broadcast.
type Envelope struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"sessionId"`
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}

func NewRelay(client *redis.Client, prefix string) *Relay {
	if prefix == "" {
		prefix = "relay"
	}
	return &Relay{
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
	}
}

func (r *Relay) Publish(ctx context.Context, sessionID domain.SessionID, room, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis relay: encode payload: %w", err)
	}
	env := Envelope{
		Origin:    r.origin,
		SessionID: string(sessionID),
		Room:      room,
		Event:     event,
		Payload:   raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis relay: encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(sessionID), body).Err(); err != nil {
		return fmt.Errorf("redis relay: publish: %w", err)
	}
	return nil
}

// Listen delivers relayed broadcasts from sibling processes until the context
// ends. Envelopes published by this relay instance are skipped so local
// subscribers never see the same event twice.
func (r *Relay) Listen(ctx context.Context, deliver func(sessionID domain.SessionID, room, event string, payload json.RawMessage)) error {
	sub := r.client.PSubscribe(ctx, r.prefix+":*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("redis relay: subscription closed")
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				return fmt.Errorf("redis relay: invalid envelope: %w", err)
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(domain.SessionID(env.SessionID), env.Room, env.Event, env.Payload)
		}
	}
}

func (r *Relay) channel(sessionID domain.SessionID) string {
	return fmt.Sprintf("%s:%s", r.prefix, sessionID)
}
