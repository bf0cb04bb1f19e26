package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/marcelojr/crowdpulse/internal/app/polling"
	"github.com/marcelojr/crowdpulse/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHubRoomMembership(t *testing.T) {
	hub := NewHub(nil, testLogger())
	sessionID := domain.SessionID("s-1")

	a := hub.Join(context.Background(), sessionID, RoomAudience)
	b := hub.Join(context.Background(), sessionID, RoomAudience)
	m := hub.Join(context.Background(), sessionID, RoomModerator)

	if got := hub.RoomSize(sessionID, RoomAudience); got != 2 {
		t.Fatalf("expected 2 audience subscribers, got %d", got)
	}
	if got := hub.RoomSize(sessionID, RoomModerator); got != 1 {
		t.Fatalf("expected 1 moderator subscriber, got %d", got)
	}

	hub.Leave(a)
	hub.Leave(b)
	hub.Leave(m)

	if got := hub.RoomSize(sessionID, RoomAudience); got != 0 {
		t.Fatalf("expected empty audience room after leave, got %d", got)
	}

	// Leaving twice must be harmless.
	hub.Leave(a)
}

func TestHubFanOutIsolatesRooms(t *testing.T) {
	hub := NewHub(nil, testLogger())
	sessionID := domain.SessionID("s-1")
	otherSession := domain.SessionID("s-2")

	audience := hub.Join(context.Background(), sessionID, RoomAudience)
	moderator := hub.Join(context.Background(), sessionID, RoomModerator)
	bystander := hub.Join(context.Background(), otherSession, RoomAudience)

	hub.ToSession(sessionID, polling.EventResults, map[string]int{"total": 3})

	f := mustReceiveFrame(t, audience)
	if f.Event != polling.EventResults {
		t.Fatalf("expected results frame, got %q", f.Event)
	}
	var body map[string]int
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if body["total"] != 3 {
		t.Fatalf("payload lost in transit: %+v", body)
	}

	assertNoFrame(t, moderator)
	assertNoFrame(t, bystander)

	hub.ToModerators(sessionID, polling.EventQuestionState, nil)
	f = mustReceiveFrame(t, moderator)
	if f.Event != polling.EventQuestionState {
		t.Fatalf("expected question_state frame, got %q", f.Event)
	}
	assertNoFrame(t, audience)
}

func TestHubSnapshotOnJoin(t *testing.T) {
	hub := NewHub(nil, testLogger())
	question := domain.Question{ID: "q-1", State: domain.StateLive, Type: domain.TypeChoice}
	tally := domain.Tally{QuestionID: question.ID, Total: 5}
	hub.SetSnapshot(staticSnapshot{question: &question, tally: &tally})

	c := hub.Join(context.Background(), "s-1", RoomAudience)

	f := mustReceiveFrame(t, c)
	if f.Event != polling.EventCurrentQuestion {
		t.Fatalf("expected snapshot frame on join, got %q", f.Event)
	}
	var payload polling.CurrentQuestionPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if payload.Question == nil || payload.Question.ID != question.ID {
		t.Fatal("snapshot must carry the live question")
	}
	if payload.Tally == nil || payload.Tally.Total != 5 {
		t.Fatal("snapshot must carry the current tally")
	}
}

func TestHubSnapshotWithNothingLive(t *testing.T) {
	hub := NewHub(nil, testLogger())
	hub.SetSnapshot(staticSnapshot{})

	c := hub.Join(context.Background(), "s-1", RoomAudience)

	f := mustReceiveFrame(t, c)
	var payload polling.CurrentQuestionPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if payload.Question != nil {
		t.Fatal("snapshot with nothing live must carry a nil question")
	}
}

func TestHubDropsStalledSubscriber(t *testing.T) {
	hub := NewHub(nil, testLogger())
	sessionID := domain.SessionID("s-1")
	c := hub.Join(context.Background(), sessionID, RoomAudience)

	// Fill the send buffer without draining it.
	for i := 0; i < sendBuffer+1; i++ {
		hub.ToSession(sessionID, polling.EventResults, map[string]int{"n": i})
	}

	if got := hub.RoomSize(sessionID, RoomAudience); got != 0 {
		t.Fatalf("stalled subscriber must be evicted, room size %d", got)
	}

	// The channel is closed on eviction so the write pump terminates.
	drained := 0
	for range c.send {
		drained++
	}
	if drained != sendBuffer {
		t.Fatalf("expected %d buffered frames before close, got %d", sendBuffer, drained)
	}
}

func TestHubDeliverRelayed(t *testing.T) {
	hub := NewHub(nil, testLogger())
	sessionID := domain.SessionID("s-1")
	c := hub.Join(context.Background(), sessionID, RoomAudience)

	hub.DeliverRelayed(sessionID, string(RoomAudience), polling.EventResults, json.RawMessage(`{"total":9}`))

	f := mustReceiveFrame(t, c)
	if f.Event != polling.EventResults {
		t.Fatalf("expected relayed results frame, got %q", f.Event)
	}
	var body map[string]int
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		t.Fatalf("decoding relayed payload: %v", err)
	}
	if body["total"] != 9 {
		t.Fatalf("relayed payload altered in transit: %+v", body)
	}
}

func TestHubMirrorsBroadcastsToRelay(t *testing.T) {
	relay := &recordingRelay{}
	hub := NewHub(relay, testLogger())
	sessionID := domain.SessionID("s-1")

	hub.ToSession(sessionID, polling.EventResults, map[string]int{"total": 1})
	hub.ToModerators(sessionID, polling.EventQuestionState, nil)

	published := relay.all()
	if len(published) != 2 {
		t.Fatalf("expected 2 relayed broadcasts, got %d", len(published))
	}
	if published[0].room != string(RoomAudience) || published[0].event != polling.EventResults {
		t.Fatalf("unexpected first relay publish: %+v", published[0])
	}
	if published[1].room != string(RoomModerator) {
		t.Fatalf("moderator broadcast must relay with its room: %+v", published[1])
	}
}

func mustReceiveFrame(t *testing.T, c *client) frame {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed unexpectedly")
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		return f
	default:
		t.Fatal("expected a buffered frame")
	}
	return frame{}
}

func assertNoFrame(t *testing.T, c *client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame delivered: %s", raw)
	default:
	}
}

type staticSnapshot struct {
	question *domain.Question
	tally    *domain.Tally
}

func (s staticSnapshot) CurrentQuestion(context.Context, domain.SessionID) (*domain.Question, *domain.Tally, error) {
	return s.question, s.tally, nil
}

type relayRecord struct {
	sessionID domain.SessionID
	room      string
	event     string
}

type recordingRelay struct {
	mu      sync.Mutex
	records []relayRecord
}

func (r *recordingRelay) Publish(_ context.Context, sessionID domain.SessionID, room, event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, relayRecord{sessionID: sessionID, room: room, event: event})
	return nil
}

func (r *recordingRelay) all() []relayRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relayRecord(nil), r.records...)
}
