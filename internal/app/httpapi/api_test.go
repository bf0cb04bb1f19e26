package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelojr/crowdpulse/internal/app/polling"
	"github.com/marcelojr/crowdpulse/internal/domain"
	"github.com/marcelojr/crowdpulse/internal/platform/clock"
	"github.com/marcelojr/crowdpulse/internal/platform/logger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	service := polling.NewService(
		newStubSessionRepo(),
		newStubQuestionRepo(),
		newStubEventRepo(),
		silentBroadcaster{},
		nil,
		clock.NewSystemClock(),
		nil,
	)

	mux := http.NewServeMux()
	New(service, logger.L()).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)

	session := createSession(t, server)
	assert.NotEmpty(t, session["id"])
	assert.Len(t, session["joinCode"], 6)

	resp, err := http.Get(server.URL + "/sessions/resolve?code=" + session["joinCode"].(string))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var resolved map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&resolved))
	assert.Equal(t, session["id"], resolved["id"])
}

func TestResolveUnknownJoinCode(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/sessions/resolve?code=ZZZZZZ")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, resp))
}

func TestVoteFlowOverHTTP(t *testing.T) {
	server := newTestServer(t)

	session := createSession(t, server)
	question := createQuestion(t, server, session["id"].(string))
	questionID := question["id"].(string)

	applyAction(t, server, questionID, "go_live", http.StatusOK)

	hash := fmt.Sprintf("%064x", 42)
	vote := map[string]any{
		"voterHash": hash,
		"segment":   "room",
		"payload":   map[string]any{"optionIndex": 0},
	}

	resp := postJSON(t, server, "/questions/"+questionID+"/votes", vote)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Same identity again: rejected with a machine-readable code.
	resp = postJSON(t, server, "/questions/"+questionID+"/votes", vote)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "duplicate_vote", errorCode(t, resp))

	tallyResp, err := http.Get(server.URL + "/questions/" + questionID + "/tally")
	require.NoError(t, err)
	defer tallyResp.Body.Close()
	require.Equal(t, http.StatusOK, tallyResp.StatusCode)

	var tally struct {
		Total     int64            `json:"total"`
		BySegment map[string]int64 `json:"bySegment"`
		ByOption  map[string]int64 `json:"byOption"`
	}
	require.NoError(t, json.NewDecoder(tallyResp.Body).Decode(&tally))
	assert.Equal(t, int64(1), tally.Total)
	assert.Equal(t, int64(1), tally.BySegment["room"])
	assert.Equal(t, int64(1), tally.ByOption["0"])
	assert.Equal(t, int64(0), tally.ByOption["1"])
}

func TestVoteRejectedBeforeGoLive(t *testing.T) {
	server := newTestServer(t)

	session := createSession(t, server)
	question := createQuestion(t, server, session["id"].(string))

	resp := postJSON(t, server, "/questions/"+question["id"].(string)+"/votes", map[string]any{
		"voterHash": fmt.Sprintf("%064x", 1),
		"segment":   "room",
		"payload":   map[string]any{"optionIndex": 0},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_votable", errorCode(t, resp))
}

func TestVoteValidationErrors(t *testing.T) {
	server := newTestServer(t)

	session := createSession(t, server)
	question := createQuestion(t, server, session["id"].(string))
	questionID := question["id"].(string)
	applyAction(t, server, questionID, "go_live", http.StatusOK)

	cases := []struct {
		name string
		body map[string]any
		code string
	}{
		{
			name: "bad identity",
			body: map[string]any{"voterHash": "nope", "segment": "room", "payload": map[string]any{"optionIndex": 0}},
			code: "invalid",
		},
		{
			name: "bad segment",
			body: map[string]any{"voterHash": fmt.Sprintf("%064x", 2), "segment": "moon", "payload": map[string]any{"optionIndex": 0}},
			code: "invalid",
		},
		{
			name: "option out of range",
			body: map[string]any{"voterHash": fmt.Sprintf("%064x", 3), "segment": "room", "payload": map[string]any{"optionIndex": 9}},
			code: "invalid",
		},
		{
			name: "payload type mismatch",
			body: map[string]any{"voterHash": fmt.Sprintf("%064x", 4), "segment": "room", "payload": map[string]any{"value": 40}},
			code: "invalid",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, server, "/questions/"+questionID+"/votes", tc.body)
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.code, errorCode(t, resp))
		})
	}
}

func TestActionEndpoint(t *testing.T) {
	server := newTestServer(t)

	session := createSession(t, server)
	question := createQuestion(t, server, session["id"].(string))
	questionID := question["id"].(string)

	// close before go_live is an invalid transition.
	resp := postJSON(t, server, "/questions/"+questionID+"/actions", map[string]string{"action": "close"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", errorCode(t, resp))

	applyAction(t, server, questionID, "go_live", http.StatusOK)
	applyAction(t, server, questionID, "close", http.StatusOK)

	resp = postJSON(t, server, "/questions/"+questionID+"/actions", map[string]string{"action": "detonate"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown_action", errorCode(t, resp))

	resp = postJSON(t, server, "/questions/missing/actions", map[string]string{"action": "close"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateQuestionValidationOverHTTP(t *testing.T) {
	server := newTestServer(t)
	session := createSession(t, server)

	resp := postJSON(t, server, "/sessions/"+session["id"].(string)+"/questions", map[string]any{
		"type":    "choice",
		"prompt":  "pick",
		"options": []string{"lonely"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid", errorCode(t, resp))

	resp = postJSON(t, server, "/sessions/missing/questions", map[string]any{
		"type":   "emoji",
		"prompt": "react",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListQuestionsOverHTTP(t *testing.T) {
	server := newTestServer(t)
	session := createSession(t, server)
	sessionID := session["id"].(string)

	createQuestion(t, server, sessionID)
	createQuestion(t, server, sessionID)

	resp, err := http.Get(server.URL + "/sessions/" + sessionID + "/questions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var questions []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&questions))
	require.Len(t, questions, 2)
	assert.Equal(t, float64(1), questions[0]["position"])
	assert.Equal(t, float64(2), questions[1]["position"])
}

// --- helpers ---

func createSession(t *testing.T, server *httptest.Server) map[string]any {
	t.Helper()
	resp := postJSON(t, server, "/sessions", map[string]any{"name": "Town Hall", "mode": "live"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	return session
}

func createQuestion(t *testing.T, server *httptest.Server, sessionID string) map[string]any {
	t.Helper()
	resp := postJSON(t, server, "/sessions/"+sessionID+"/questions", map[string]any{
		"type":    "choice",
		"prompt":  "A or B?",
		"options": []string{"A", "B"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var question map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&question))
	return question
}

func applyAction(t *testing.T, server *httptest.Server, questionID, action string, wantStatus int) {
	t.Helper()
	resp := postJSON(t, server, "/questions/"+questionID+"/actions", map[string]string{"action": action})
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode, "action %s", action)
}

func postJSON(t *testing.T, server *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["code"]
}

// --- stubs ---

type silentBroadcaster struct{}

func (silentBroadcaster) ToSession(domain.SessionID, string, any)    {}
func (silentBroadcaster) ToModerators(domain.SessionID, string, any) {}

type stubSessionRepo struct {
	mu   sync.Mutex
	data map[domain.SessionID]domain.Session
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{data: make(map[domain.SessionID]domain.Session)}
}

func (r *stubSessionRepo) Create(_ context.Context, s domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[s.ID] = s
	return nil
}

func (r *stubSessionRepo) FindByID(_ context.Context, id domain.SessionID) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.data[id]; ok {
		return s, nil
	}
	return domain.Session{}, domain.ErrNotFound
}

func (r *stubSessionRepo) FindByJoinCode(_ context.Context, code string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data {
		if s.JoinCode == code {
			return s, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

type stubQuestionRepo struct {
	mu   sync.Mutex
	data map[domain.QuestionID]domain.Question
}

func newStubQuestionRepo() *stubQuestionRepo {
	return &stubQuestionRepo{data: make(map[domain.QuestionID]domain.Question)}
}

func (r *stubQuestionRepo) Create(_ context.Context, q domain.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[q.ID] = q
	return nil
}

func (r *stubQuestionRepo) FindByID(_ context.Context, id domain.QuestionID) (domain.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.data[id]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrNotFound
}

func (r *stubQuestionRepo) ListBySession(_ context.Context, sessionID domain.SessionID) ([]domain.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Question
	for _, q := range r.data {
		if q.SessionID == sessionID {
			result = append(result, q)
		}
	}
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].Position < result[i].Position {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

func (r *stubQuestionRepo) FindLiveBySession(_ context.Context, sessionID domain.SessionID) (domain.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.data {
		if q.SessionID == sessionID && q.State == domain.StateLive {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrNotFound
}

func (r *stubQuestionRepo) SetLive(_ context.Context, id domain.QuestionID, openedAt time.Time) error {
	return r.mutate(id, func(q *domain.Question) {
		q.State = domain.StateLive
		q.OpenedAt = &openedAt
		q.ClosedAt = nil
	})
}

func (r *stubQuestionRepo) SetClosed(_ context.Context, id domain.QuestionID, closedAt time.Time) error {
	return r.mutate(id, func(q *domain.Question) {
		q.State = domain.StateClosed
		q.ClosedAt = &closedAt
	})
}

func (r *stubQuestionRepo) SetRevealed(_ context.Context, id domain.QuestionID, revealed bool) error {
	return r.mutate(id, func(q *domain.Question) { q.Revealed = revealed })
}

func (r *stubQuestionRepo) SetFrozen(_ context.Context, id domain.QuestionID, frozen bool) error {
	return r.mutate(id, func(q *domain.Question) { q.Frozen = frozen })
}

func (r *stubQuestionRepo) ResetToDraft(_ context.Context, id domain.QuestionID) error {
	return r.mutate(id, func(q *domain.Question) {
		q.State = domain.StateDraft
		q.Revealed = false
		q.Frozen = false
		q.OpenedAt = nil
		q.ClosedAt = nil
	})
}

func (r *stubQuestionRepo) mutate(id domain.QuestionID, fn func(*domain.Question)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&q)
	r.data[id] = q
	return nil
}

type stubEventRepo struct {
	mu     sync.Mutex
	events []domain.VoteEvent
}

func newStubEventRepo() *stubEventRepo {
	return &stubEventRepo{}
}

func (r *stubEventRepo) Append(_ context.Context, e domain.VoteEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *stubEventRepo) ListByQuestion(_ context.Context, questionID domain.QuestionID) ([]domain.VoteEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.VoteEvent
	for _, e := range r.events {
		if e.QuestionID == questionID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *stubEventRepo) HasVoted(_ context.Context, questionID domain.QuestionID, voterHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.QuestionID == questionID && e.VoterHash == voterHash {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubEventRepo) DeleteByQuestion(_ context.Context, questionID domain.QuestionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	for _, e := range r.events {
		if e.QuestionID != questionID {
			kept = append(kept, e)
		}
	}
	r.events = kept
	return nil
}
