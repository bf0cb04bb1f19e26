package polling

import "github.com/marcelojr/crowdpulse/internal/domain"

// Event names pushed through the fan-out router. Every payload carries full
// current state, never a delta, so subscribers that observe events out of
// order converge on the next broadcast.
const (
	EventCurrentQuestion = "current_question"
	EventQuestionState   = "question_state"
	EventResults         = "results"
)

// CurrentQuestionPayload announces which question is live. Question is nil
// when the session has no live question.
type CurrentQuestionPayload struct {
	Question *domain.Question `json:"question"`
	Tally    *domain.Tally    `json:"tally"`
}

type QuestionStatePayload struct {
	QuestionID domain.QuestionID    `json:"questionId"`
	State      domain.QuestionState `json:"state"`
	IsRevealed bool                 `json:"isRevealed"`
	IsFrozen   bool                 `json:"isFrozen"`
}

type ResultsPayload struct {
	QuestionID domain.QuestionID `json:"questionId"`
	Question   *domain.Question  `json:"question,omitempty"`
	Tally      domain.Tally      `json:"tally"`
}

func statePayload(q domain.Question) QuestionStatePayload {
	return QuestionStatePayload{
		QuestionID: q.ID,
		State:      q.State,
		IsRevealed: q.Revealed,
		IsFrozen:   q.Frozen,
	}
}
