// Package polling implements the core of the platform: serialized vote
// ingestion, tally aggregation over the append-only event log, and the
// moderator-driven question lifecycle.
package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcelojr/crowdpulse/internal/domain"
	"github.com/marcelojr/crowdpulse/internal/platform/ids"
	"github.com/marcelojr/crowdpulse/internal/platform/logger"
	"github.com/marcelojr/crowdpulse/internal/platform/metrics"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrQuestionNotVotable = errors.New("question not votable")
	ErrDuplicateVote      = errors.New("duplicate vote")
	ErrUnknownAction      = errors.New("unknown action")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidVoterHash   = errors.New("invalid voter hash")
	ErrSessionInvalid     = errors.New("session invalid")
	ErrQuestionInvalid    = errors.New("question invalid")
)

// Service owns all writes to questions and the vote event log. Mutations for a
// given question go through a per-question lock so the duplicate check and the
// append are one serialized step; lifecycle actions additionally hold a
// per-session lock because go_live touches more than one question.
type Service struct {
	sessions  domain.SessionRepository
	questions domain.QuestionRepository
	events    domain.VoteEventRepository
	broadcast domain.Broadcaster
	abuse     domain.AbuseGuard
	clock     domain.Clock
	ids       *ids.Generator

	questionLocks *keyedMutex
	sessionLocks  *keyedMutex
}

func NewService(
	sessions domain.SessionRepository,
	questions domain.QuestionRepository,
	events domain.VoteEventRepository,
	broadcast domain.Broadcaster,
	abuse domain.AbuseGuard,
	clock domain.Clock,
	idsGen *ids.Generator,
) *Service {
	if idsGen == nil {
		idsGen = ids.DefaultGenerator()
	}
	return &Service{
		sessions:      sessions,
		questions:     questions,
		events:        events,
		broadcast:     broadcast,
		abuse:         abuse,
		clock:         clock,
		ids:           idsGen,
		questionLocks: newKeyedMutex(),
		sessionLocks:  newKeyedMutex(),
	}
}

// CreateSession registers a session under a fresh short join code.
func (s *Service) CreateSession(ctx context.Context, name string, mode domain.SessionMode, broadcastDelaySeconds int) (domain.Session, error) {
	if name == "" {
		return domain.Session{}, fmt.Errorf("%w: name required", ErrSessionInvalid)
	}
	if mode == "" {
		mode = domain.ModeLive
	}
	if mode != domain.ModeLive && mode != domain.ModeSurvey {
		return domain.Session{}, fmt.Errorf("%w: unknown mode %q", ErrSessionInvalid, mode)
	}
	if broadcastDelaySeconds < 0 {
		return domain.Session{}, fmt.Errorf("%w: negative broadcast delay", ErrSessionInvalid)
	}

	now := s.clock.Now()
	session := domain.Session{
		ID:                    domain.SessionID(s.ids.New()),
		Name:                  name,
		JoinCode:              ids.NewJoinCode(),
		Mode:                  mode,
		BroadcastDelaySeconds: broadcastDelaySeconds,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// GetSession looks a session up by id.
func (s *Service) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Session{}, ErrSessionNotFound
		}
		return domain.Session{}, err
	}
	return session, nil
}

// ResolveJoinCode maps a short audience join code back to its session.
func (s *Service) ResolveJoinCode(ctx context.Context, code string) (domain.Session, error) {
	session, err := s.sessions.FindByJoinCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Session{}, ErrSessionNotFound
		}
		return domain.Session{}, err
	}
	return session, nil
}

// CreateQuestion adds a question in draft at the end of the session's run of show.
func (s *Service) CreateQuestion(ctx context.Context, sessionID domain.SessionID, qType domain.QuestionType, prompt string, options []string, durationSeconds int) (domain.Question, error) {
	if prompt == "" {
		return domain.Question{}, fmt.Errorf("%w: prompt required", ErrQuestionInvalid)
	}
	switch qType {
	case domain.TypeChoice:
		if len(options) < 2 {
			return domain.Question{}, fmt.Errorf("%w: choice needs at least two options", ErrQuestionInvalid)
		}
	case domain.TypeSlider, domain.TypeEmoji:
		if len(options) != 0 {
			return domain.Question{}, fmt.Errorf("%w: %s takes no options", ErrQuestionInvalid, qType)
		}
	default:
		return domain.Question{}, fmt.Errorf("%w: unknown type %q", ErrQuestionInvalid, qType)
	}
	if durationSeconds < 0 {
		return domain.Question{}, fmt.Errorf("%w: negative duration", ErrQuestionInvalid)
	}

	if _, err := s.sessions.FindByID(ctx, sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Question{}, ErrSessionNotFound
		}
		return domain.Question{}, err
	}

	existing, err := s.questions.ListBySession(ctx, sessionID)
	if err != nil {
		return domain.Question{}, err
	}

	now := s.clock.Now()
	question := domain.Question{
		ID:              domain.QuestionID(s.ids.New()),
		SessionID:       sessionID,
		Position:        len(existing) + 1,
		Type:            qType,
		Prompt:          prompt,
		Options:         options,
		State:           domain.StateDraft,
		DurationSeconds: durationSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.questions.Create(ctx, question); err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

func (s *Service) ListQuestions(ctx context.Context, sessionID domain.SessionID) ([]domain.Question, error) {
	if _, err := s.sessions.FindByID(ctx, sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s.questions.ListBySession(ctx, sessionID)
}

// SubmitVote is the single entry point for vote submissions. The duplicate
// check, the append, the tally recompute and the broadcast run under the
// question's lock, so a check-then-act race between two votes from the same
// identity cannot admit both. Either the vote is durably recorded (and
// broadcast best effort) or the caller gets an error and nothing changed.
func (s *Service) SubmitVote(ctx context.Context, questionID domain.QuestionID, voterHash string, segment domain.Segment, payload domain.VotePayload) error {
	if !domain.ValidVoterHash(voterHash) {
		return ErrInvalidVoterHash
	}
	if !domain.ValidSegment(segment) {
		return fmt.Errorf("%w: unknown segment %q", ErrInvalidPayload, segment)
	}

	unlock := s.questionLocks.Lock(string(questionID))
	defer unlock()

	question, err := s.questions.FindByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrQuestionNotFound
		}
		return err
	}

	if question.State != domain.StateLive || question.Frozen {
		return ErrQuestionNotVotable
	}

	if err := validatePayload(question, payload); err != nil {
		return err
	}

	if s.abuse != nil {
		if err := s.abuse.Allow(ctx, questionID, voterHash); err != nil {
			return err
		}
	}

	// Emoji reactions are deliberately exempt from the one-vote rule: a viewer
	// may react as often as they like.
	if question.Type != domain.TypeEmoji {
		voted, err := s.events.HasVoted(ctx, questionID, voterHash)
		if err != nil {
			return err
		}
		if voted {
			return ErrDuplicateVote
		}
	}

	event := domain.VoteEvent{
		ID:          domain.VoteEventID(s.ids.New()),
		SessionID:   question.SessionID,
		QuestionID:  questionID,
		VoterHash:   voterHash,
		Segment:     segment,
		OptionIndex: payload.OptionIndex,
		SliderValue: payload.SliderValue,
		Emoji:       payload.Emoji,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.events.Append(ctx, event); err != nil {
		return err
	}

	tally, err := s.recomputeTally(ctx, question)
	if err != nil {
		// The append is the commit point. A read failure here must not report
		// the durably recorded vote as failed; subscribers converge on the
		// next successful broadcast.
		logger.Error("tally recompute after append failed", "question", questionID, "err", err)
		return nil
	}

	s.publishResults(question, tally)
	return nil
}

// ComputeTally recomputes the aggregate view for a question from its event log.
func (s *Service) ComputeTally(ctx context.Context, questionID domain.QuestionID) (domain.Tally, error) {
	question, err := s.questions.FindByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Tally{}, ErrQuestionNotFound
		}
		return domain.Tally{}, err
	}
	return s.recomputeTally(ctx, question)
}

// CurrentQuestion returns the session's live question with a fresh tally, or a
// nil question when nothing is live. The fan-out router uses it to bring late
// joiners up to date on connect.
func (s *Service) CurrentQuestion(ctx context.Context, sessionID domain.SessionID) (*domain.Question, *domain.Tally, error) {
	question, err := s.questions.FindLiveBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	tally, err := s.recomputeTally(ctx, question)
	if err != nil {
		return nil, nil, err
	}
	return &question, &tally, nil
}

// Apply executes a moderator lifecycle command against a question.
func (s *Service) Apply(ctx context.Context, questionID domain.QuestionID, actionName string) error {
	action, err := ParseAction(actionName)
	if err != nil {
		return err
	}

	question, err := s.questions.FindByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrQuestionNotFound
		}
		return err
	}

	// go_live can close a sibling question, so all lifecycle mutations of a
	// session serialize with each other. Vote ingestion keeps running under the
	// per-question locks taken inside each transition.
	unlock := s.sessionLocks.Lock(string(question.SessionID))
	defer unlock()

	// The pre-lock read only located the session. The state the transition
	// checks against must be read under the lock, or a command that lost a
	// race acts on a stale snapshot.
	question, err = s.questions.FindByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrQuestionNotFound
		}
		return err
	}

	switch action {
	case ActionGoLive:
		return s.goLive(ctx, question)
	case ActionClose:
		return s.close(ctx, question)
	case ActionReveal:
		return s.setRevealed(ctx, question, true)
	case ActionHide:
		return s.setRevealed(ctx, question, false)
	case ActionFreeze:
		return s.setFrozen(ctx, question, true)
	case ActionUnfreeze:
		return s.setFrozen(ctx, question, false)
	case ActionReset:
		return s.reset(ctx, question)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, actionName)
}

func (s *Service) goLive(ctx context.Context, question domain.Question) error {
	if question.State != domain.StateDraft {
		return fmt.Errorf("%w: go_live from %s", ErrInvalidTransition, question.State)
	}

	now := s.clock.Now()

	// At most one live question per session: force-close the current one first.
	if live, err := s.questions.FindLiveBySession(ctx, question.SessionID); err == nil && live.ID != question.ID {
		if err := s.closeQuestion(ctx, live, now); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	unlock := s.questionLocks.Lock(string(question.ID))
	err := s.questions.SetLive(ctx, question.ID, now)
	unlock()
	if err != nil {
		return err
	}

	question.State = domain.StateLive
	question.OpenedAt = &now
	s.publishState(question)

	tally, err := s.recomputeTally(ctx, question)
	if err != nil {
		return err
	}
	payload := CurrentQuestionPayload{Question: &question, Tally: &tally}
	s.broadcast.ToSession(question.SessionID, EventCurrentQuestion, payload)
	s.broadcast.ToModerators(question.SessionID, EventCurrentQuestion, payload)
	return nil
}

func (s *Service) close(ctx context.Context, question domain.Question) error {
	if question.State != domain.StateLive {
		return fmt.Errorf("%w: close from %s", ErrInvalidTransition, question.State)
	}
	if err := s.closeQuestion(ctx, question, s.clock.Now()); err != nil {
		return err
	}
	// Audience screens fall back to the "no live question" idle view.
	payload := CurrentQuestionPayload{}
	s.broadcast.ToSession(question.SessionID, EventCurrentQuestion, payload)
	s.broadcast.ToModerators(question.SessionID, EventCurrentQuestion, payload)
	return nil
}

// closeQuestion stamps closedAt under the question lock and announces the new
// state; used both by close and by go_live's force close.
func (s *Service) closeQuestion(ctx context.Context, question domain.Question, closedAt time.Time) error {
	unlock := s.questionLocks.Lock(string(question.ID))
	err := s.questions.SetClosed(ctx, question.ID, closedAt)
	unlock()
	if err != nil {
		return err
	}
	question.State = domain.StateClosed
	question.ClosedAt = &closedAt
	s.publishState(question)
	return nil
}

func (s *Service) setRevealed(ctx context.Context, question domain.Question, revealed bool) error {
	unlock := s.questionLocks.Lock(string(question.ID))
	err := s.questions.SetRevealed(ctx, question.ID, revealed)
	unlock()
	if err != nil {
		return err
	}
	question.Revealed = revealed
	s.publishState(question)

	// Revealing a question that is not live pushes its results to the audience
	// so closed or draft questions can be shown without going live again.
	if revealed && question.State != domain.StateLive {
		tally, err := s.recomputeTally(ctx, question)
		if err != nil {
			return err
		}
		s.broadcast.ToSession(question.SessionID, EventResults, ResultsPayload{
			QuestionID: question.ID,
			Question:   &question,
			Tally:      tally,
		})
	}
	return nil
}

func (s *Service) setFrozen(ctx context.Context, question domain.Question, frozen bool) error {
	if question.State != domain.StateLive {
		return fmt.Errorf("%w: freeze toggles only a live question", ErrInvalidTransition)
	}
	unlock := s.questionLocks.Lock(string(question.ID))
	err := s.questions.SetFrozen(ctx, question.ID, frozen)
	unlock()
	if err != nil {
		return err
	}
	question.Frozen = frozen
	s.publishState(question)
	return nil
}

func (s *Service) reset(ctx context.Context, question domain.Question) error {
	if question.State == domain.StateLive {
		return fmt.Errorf("%w: close the question before resetting", ErrInvalidTransition)
	}

	unlock := s.questionLocks.Lock(string(question.ID))
	defer unlock()

	if err := s.events.DeleteByQuestion(ctx, question.ID); err != nil {
		return err
	}
	if err := s.questions.ResetToDraft(ctx, question.ID); err != nil {
		return err
	}

	question.State = domain.StateDraft
	question.Revealed = false
	question.Frozen = false
	question.OpenedAt = nil
	question.ClosedAt = nil
	s.publishState(question)
	return nil
}

func (s *Service) recomputeTally(ctx context.Context, question domain.Question) (domain.Tally, error) {
	start := time.Now()
	events, err := s.events.ListByQuestion(ctx, question.ID)
	if err != nil {
		return domain.Tally{}, err
	}
	tally := buildTally(question, events, s.clock.Now())
	metrics.ObserveTallyRecompute(time.Since(start).Seconds())
	return tally, nil
}

func (s *Service) publishState(question domain.Question) {
	payload := statePayload(question)
	s.broadcast.ToSession(question.SessionID, EventQuestionState, payload)
	s.broadcast.ToModerators(question.SessionID, EventQuestionState, payload)
}

func (s *Service) publishResults(question domain.Question, tally domain.Tally) {
	payload := ResultsPayload{QuestionID: question.ID, Tally: tally}
	s.broadcast.ToSession(question.SessionID, EventResults, payload)
	s.broadcast.ToModerators(question.SessionID, EventResults, payload)
	metrics.IncBroadcast(EventResults)
}

func validatePayload(question domain.Question, payload domain.VotePayload) error {
	switch question.Type {
	case domain.TypeChoice:
		if payload.OptionIndex == nil || payload.SliderValue != nil || payload.Emoji != "" {
			return fmt.Errorf("%w: choice vote needs optionIndex", ErrInvalidPayload)
		}
		if *payload.OptionIndex < 0 || *payload.OptionIndex >= len(question.Options) {
			return fmt.Errorf("%w: optionIndex %d out of range", ErrInvalidPayload, *payload.OptionIndex)
		}
	case domain.TypeSlider:
		if payload.SliderValue == nil || payload.OptionIndex != nil || payload.Emoji != "" {
			return fmt.Errorf("%w: slider vote needs value", ErrInvalidPayload)
		}
		if *payload.SliderValue < 0 || *payload.SliderValue > 100 {
			return fmt.Errorf("%w: slider value %d out of range", ErrInvalidPayload, *payload.SliderValue)
		}
	case domain.TypeEmoji:
		if payload.Emoji == "" || payload.OptionIndex != nil || payload.SliderValue != nil {
			return fmt.Errorf("%w: emoji vote needs emoji", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidPayload, question.Type)
	}
	return nil
}
