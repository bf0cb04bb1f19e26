// Package httpapi exposes the REST handlers and translates HTTP requests into
// polling service calls.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcelojr/crowdpulse/internal/app/polling"
	"github.com/marcelojr/crowdpulse/internal/domain"
	"github.com/marcelojr/crowdpulse/internal/platform/abuse"
	"github.com/marcelojr/crowdpulse/internal/platform/metrics"
)

// API bundles the HTTP handlers around the polling service and the logger.
type API struct {
	service *polling.Service
	logger  *slog.Logger
}

func New(service *polling.Service, logger *slog.Logger) *API {
	return &API{service: service, logger: logger}
}

func (a *API) Register(mux *http.ServeMux) {
	// Routes stay centralized so tests can mount the API on their own mux.
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("POST /sessions", a.createSession)
	mux.HandleFunc("GET /sessions/resolve", a.resolveJoinCode)
	mux.HandleFunc("POST /sessions/{id}/questions", a.createQuestion)
	mux.HandleFunc("GET /sessions/{id}/questions", a.listQuestions)
	mux.HandleFunc("POST /questions/{id}/votes", a.submitVote)
	mux.HandleFunc("POST /questions/{id}/actions", a.applyAction)
	mux.HandleFunc("GET /questions/{id}/tally", a.getTally)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type sessionRequest struct {
	Name                  string `json:"name"`
	Mode                  string `json:"mode"`
	BroadcastDelaySeconds int    `json:"broadcastDelaySeconds"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	session, err := a.service.CreateSession(r.Context(), req.Name, domain.SessionMode(req.Mode), req.BroadcastDelaySeconds)
	if err != nil {
		a.logger.Warn("session create rejected", "err", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

func (a *API) resolveJoinCode(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	session, err := a.service.ResolveJoinCode(r.Context(), code)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

type questionRequest struct {
	Type            string   `json:"type"`
	Prompt          string   `json:"prompt"`
	Options         []string `json:"options"`
	DurationSeconds int      `json:"durationSeconds"`
}

func (a *API) createQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID := domain.SessionID(r.PathValue("id"))

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	question, err := a.service.CreateQuestion(r.Context(), sessionID, domain.QuestionType(req.Type), req.Prompt, req.Options, req.DurationSeconds)
	if err != nil {
		a.logger.Warn("question create rejected", "session", sessionID, "err", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, question)
}

func (a *API) listQuestions(w http.ResponseWriter, r *http.Request) {
	sessionID := domain.SessionID(r.PathValue("id"))

	questions, err := a.service.ListQuestions(r.Context(), sessionID)
	if err != nil {
		a.logger.Error("question list failed", "session", sessionID, "err", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, questions)
}

type voteRequest struct {
	VoterHash string             `json:"voterHash"`
	Segment   string             `json:"segment"`
	Payload   domain.VotePayload `json:"payload"`
}

func (a *API) submitVote(w http.ResponseWriter, r *http.Request) {
	questionID := domain.QuestionID(r.PathValue("id"))

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ObserveVoteRequest("invalid_payload")
		a.logger.Warn("invalid vote payload", "err", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	err := a.service.SubmitVote(r.Context(), questionID, req.VoterHash, domain.Segment(req.Segment), req.Payload)
	if err != nil {
		status := statusFromError(err)
		metrics.ObserveVoteRequest(status)
		a.logger.Warn("vote rejected", "question", questionID, "status", status, "err", err)
		respondError(w, err)
		return
	}

	metrics.ObserveVoteRequest("accepted")
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type actionRequest struct {
	Action string `json:"action"`
}

func (a *API) applyAction(w http.ResponseWriter, r *http.Request) {
	questionID := domain.QuestionID(r.PathValue("id"))

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := a.service.Apply(r.Context(), questionID, req.Action); err != nil {
		a.logger.Warn("action rejected", "question", questionID, "action", req.Action, "err", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (a *API) getTally(w http.ResponseWriter, r *http.Request) {
	questionID := domain.QuestionID(r.PathValue("id"))

	tally, err := a.service.ComputeTally(r.Context(), questionID)
	if err != nil {
		a.logger.Error("tally failed", "question", questionID, "err", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tally)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError gives rejected submissions a machine-readable code so the
// client can render the right end state (already voted vs. voting closed)
// instead of retrying blindly.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, polling.ErrSessionInvalid),
		errors.Is(err, polling.ErrQuestionInvalid),
		errors.Is(err, polling.ErrInvalidPayload),
		errors.Is(err, polling.ErrInvalidVoterHash),
		errors.Is(err, polling.ErrUnknownAction):
		status = http.StatusBadRequest
	case errors.Is(err, polling.ErrDuplicateVote),
		errors.Is(err, polling.ErrQuestionNotVotable),
		errors.Is(err, polling.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, polling.ErrSessionNotFound),
		errors.Is(err, polling.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, abuse.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
	}

	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  statusFromError(err),
	})
}

func statusFromError(err error) string {
	switch {
	case errors.Is(err, polling.ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, polling.ErrQuestionNotVotable):
		return "not_votable"
	case errors.Is(err, polling.ErrQuestionNotFound), errors.Is(err, polling.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, polling.ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, polling.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, polling.ErrInvalidPayload), errors.Is(err, polling.ErrInvalidVoterHash),
		errors.Is(err, polling.ErrSessionInvalid), errors.Is(err, polling.ErrQuestionInvalid):
		return "invalid"
	case errors.Is(err, abuse.ErrRateLimitExceeded):
		return "rate_limited"
	default:
		return "error"
	}
}
