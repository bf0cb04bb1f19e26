package domain

import (
	"context"
	"time"
)

type SessionRepository interface {
	Create(ctx context.Context, s Session) error
	FindByID(ctx context.Context, id SessionID) (Session, error)
	FindByJoinCode(ctx context.Context, code string) (Session, error)
}

type QuestionRepository interface {
	Create(ctx context.Context, q Question) error
	FindByID(ctx context.Context, id QuestionID) (Question, error)
	ListBySession(ctx context.Context, sessionID SessionID) ([]Question, error)
	// FindLiveBySession returns ErrNotFound when no question in the session is live.
	FindLiveBySession(ctx context.Context, sessionID SessionID) (Question, error)
	SetLive(ctx context.Context, id QuestionID, openedAt time.Time) error
	SetClosed(ctx context.Context, id QuestionID, closedAt time.Time) error
	SetRevealed(ctx context.Context, id QuestionID, revealed bool) error
	SetFrozen(ctx context.Context, id QuestionID, frozen bool) error
	// ResetToDraft returns the question to draft and clears opened/closed stamps
	// and both lifecycle flags.
	ResetToDraft(ctx context.Context, id QuestionID) error
}

// VoteEventRepository is the only write path into the append-only vote log.
// Callers must hold the per-question serialization point before Append.
type VoteEventRepository interface {
	Append(ctx context.Context, e VoteEvent) error
	// ListByQuestion returns all events for the question ordered by creation time.
	ListByQuestion(ctx context.Context, questionID QuestionID) ([]VoteEvent, error)
	HasVoted(ctx context.Context, questionID QuestionID, voterHash string) (bool, error)
	DeleteByQuestion(ctx context.Context, questionID QuestionID) error
}

// Broadcaster fans an event out to every subscriber of a room. Delivery is
// best effort and at most once; failures are logged by the implementation and
// never surfaced to the ingestion path.
type Broadcaster interface {
	ToSession(sessionID SessionID, event string, payload any)
	ToModerators(sessionID SessionID, event string, payload any)
}

// AbuseGuard pre-screens a vote submission before it reaches the duplicate
// guard. Implementations return ErrRateLimited-style sentinel errors.
type AbuseGuard interface {
	Allow(ctx context.Context, questionID QuestionID, voterHash string) error
}

type Clock interface {
	Now() time.Time
}
