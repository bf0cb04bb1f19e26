// Package realtime fans lifecycle and tally updates out to every subscriber of
// a session over websockets. Delivery is at most once per connected client; a
// reconnecting client resynchronizes through the initial snapshot push.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/marcelojr/crowdpulse/internal/app/polling"
	"github.com/marcelojr/crowdpulse/internal/domain"
	"github.com/marcelojr/crowdpulse/internal/platform/metrics"
)

// RoomKind splits a session's subscribers: voters, overlays and dashboards
// share the audience room, pollster consoles get their own.
type RoomKind string

const (
	RoomAudience  RoomKind = "audience"
	RoomModerator RoomKind = "moderator"
)

// SnapshotSource hands a late joiner the session's live question with a fresh
// tally. Question is nil when nothing is live.
type SnapshotSource interface {
	CurrentQuestion(ctx context.Context, sessionID domain.SessionID) (*domain.Question, *domain.Tally, error)
}

// Relay mirrors broadcasts to sibling processes. Optional; nil keeps the hub
// purely in-process.
type Relay interface {
	Publish(ctx context.Context, sessionID domain.SessionID, room, event string, payload any) error
}

type roomKey struct {
	sessionID domain.SessionID
	kind      RoomKind
}

type client struct {
	id        string
	sessionID domain.SessionID
	kind      RoomKind
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub is the subscription registry plus the fan-out path. It keeps membership
// behind its own lock instead of module-level maps so a broker-backed
// implementation can replace it without touching callers.
type Hub struct {
	mu    sync.RWMutex
	rooms map[roomKey]map[string]*client

	snapshot SnapshotSource
	relay    Relay
	logger   *slog.Logger
}

func NewHub(relay Relay, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[roomKey]map[string]*client),
		relay:  relay,
		logger: logger,
	}
}

// SetSnapshot wires the snapshot source after construction; the hub and the
// polling service reference each other, so one side attaches late.
func (h *Hub) SetSnapshot(src SnapshotSource) {
	h.snapshot = src
}

// Join registers a connection in its room and queues the current-state
// snapshot so late joiners render without waiting for the next vote.
func (h *Hub) Join(ctx context.Context, sessionID domain.SessionID, kind RoomKind) *client {
	c := &client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		kind:      kind,
		send:      make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	key := roomKey{sessionID: sessionID, kind: kind}
	room, ok := h.rooms[key]
	if !ok {
		room = make(map[string]*client)
		h.rooms[key] = room
	}
	room[c.id] = c
	h.mu.Unlock()

	metrics.IncConnectedClients()
	h.queueSnapshot(ctx, c)
	return c
}

func (h *Hub) Leave(c *client) {
	h.mu.Lock()
	key := roomKey{sessionID: c.sessionID, kind: c.kind}
	if room, ok := h.rooms[key]; ok {
		if _, member := room[c.id]; member {
			delete(room, c.id)
			if len(room) == 0 {
				delete(h.rooms, key)
			}
			metrics.DecConnectedClients()
		}
	}
	h.mu.Unlock()
	c.close()
}

// ToSession pushes an event to the session's audience room.
func (h *Hub) ToSession(sessionID domain.SessionID, event string, payload any) {
	h.broadcast(sessionID, RoomAudience, event, payload)
}

// ToModerators pushes an event to the session's pollster consoles.
func (h *Hub) ToModerators(sessionID domain.SessionID, event string, payload any) {
	h.broadcast(sessionID, RoomModerator, event, payload)
}

func (h *Hub) broadcast(sessionID domain.SessionID, kind RoomKind, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("broadcast frame encode failed", "event", event, "err", err)
		return
	}
	h.deliver(sessionID, kind, frame)

	if h.relay != nil {
		// Best effort: a relay outage must not fail the vote that triggered it.
		if err := h.relay.Publish(context.Background(), sessionID, string(kind), event, payload); err != nil {
			h.logger.Warn("broadcast relay publish failed", "event", event, "err", err)
		}
	}
}

// DeliverRelayed injects a broadcast received from a sibling process into the
// local rooms without re-publishing it.
func (h *Hub) DeliverRelayed(sessionID domain.SessionID, room, event string, payload json.RawMessage) {
	frame, err := encodeRawFrame(event, payload)
	if err != nil {
		h.logger.Error("relayed frame encode failed", "event", event, "err", err)
		return
	}
	h.deliver(sessionID, RoomKind(room), frame)
}

func (h *Hub) deliver(sessionID domain.SessionID, kind RoomKind, frame []byte) {
	h.mu.RLock()
	room := h.rooms[roomKey{sessionID: sessionID, kind: kind}]
	var stalled []*client
	for _, c := range room {
		select {
		case c.send <- frame:
		default:
			// A client that cannot drain its buffer is dropped; it recovers
			// state through the snapshot on reconnect.
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.logger.Warn("dropping stalled subscriber", "session", sessionID, "room", kind)
		h.Leave(c)
	}
}

func (h *Hub) queueSnapshot(ctx context.Context, c *client) {
	if h.snapshot == nil {
		return
	}
	question, tally, err := h.snapshot.CurrentQuestion(ctx, c.sessionID)
	if err != nil {
		h.logger.Error("snapshot for new subscriber failed", "session", c.sessionID, "err", err)
		return
	}
	frame, err := encodeFrame(polling.EventCurrentQuestion, polling.CurrentQuestionPayload{
		Question: question,
		Tally:    tally,
	})
	if err != nil {
		h.logger.Error("snapshot frame encode failed", "err", err)
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// RoomSize reports current membership; used by tests and the stats endpoint.
func (h *Hub) RoomSize(sessionID domain.SessionID, kind RoomKind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey{sessionID: sessionID, kind: kind}])
}

// frame is the wire form of every push: event name plus full-state payload.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Payload: raw})
}

func encodeRawFrame(event string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(frame{Event: event, Payload: payload})
}

var _ domain.Broadcaster = (*Hub)(nil)
