package domain

import (
	"time"
)

type (
	SessionID   string
	QuestionID  string
	VoteEventID string
)

type SessionMode string

const (
	ModeLive   SessionMode = "live"
	ModeSurvey SessionMode = "survey"
)

type QuestionType string

const (
	TypeChoice QuestionType = "choice"
	TypeSlider QuestionType = "slider"
	TypeEmoji  QuestionType = "emoji"
)

type QuestionState string

const (
	StateDraft  QuestionState = "draft"
	StateLive   QuestionState = "live"
	StateClosed QuestionState = "closed"
)

// Segment splits the audience into the physically present room and remote viewers.
type Segment string

const (
	SegmentRoom   Segment = "room"
	SegmentRemote Segment = "remote"
)

type Session struct {
	ID                    SessionID   `gorm:"column:id;type:char(26);primaryKey" json:"id"`
	Name                  string      `gorm:"column:name;type:text;not null" json:"name"`
	JoinCode              string      `gorm:"column:join_code;type:varchar(12);not null;uniqueIndex" json:"joinCode"`
	Mode                  SessionMode `gorm:"column:mode;type:varchar(10);not null;default:live" json:"mode"`
	BroadcastDelaySeconds int         `gorm:"column:broadcast_delay_seconds;not null;default:0" json:"broadcastDelaySeconds"`
	Questions             []Question  `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	CreatedAt             time.Time   `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt             time.Time   `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

type Question struct {
	ID              QuestionID    `gorm:"column:id;type:char(26);primaryKey" json:"id"`
	SessionID       SessionID     `gorm:"column:session_id;type:char(26);not null;index" json:"sessionId"`
	Position        int           `gorm:"column:position;not null;default:0" json:"position"`
	Type            QuestionType  `gorm:"column:type;type:varchar(10);not null" json:"type"`
	Prompt          string        `gorm:"column:prompt;type:text;not null" json:"prompt"`
	Options         []string      `gorm:"column:options;serializer:json;type:text" json:"options"`
	State           QuestionState `gorm:"column:state;type:varchar(10);not null;default:draft" json:"state"`
	Revealed        bool          `gorm:"column:revealed;not null;default:false" json:"isRevealed"`
	Frozen          bool          `gorm:"column:frozen;not null;default:false" json:"isFrozen"`
	DurationSeconds int           `gorm:"column:duration_seconds;not null;default:0" json:"durationSeconds"`
	OpenedAt        *time.Time    `gorm:"column:opened_at" json:"openedAt,omitempty"`
	ClosedAt        *time.Time    `gorm:"column:closed_at" json:"closedAt,omitempty"`
	CreatedAt       time.Time     `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// VoteEvent is an immutable, append-only record of one accepted vote. The payload
// union is flattened into nullable columns; Payload() rebuilds the tagged form.
type VoteEvent struct {
	ID          VoteEventID `gorm:"column:id;type:char(26);primaryKey" json:"id"`
	SessionID   SessionID   `gorm:"column:session_id;type:char(26);not null;index" json:"sessionId"`
	QuestionID  QuestionID  `gorm:"column:question_id;type:char(26);not null;index:idx_vote_events_question;index:idx_vote_events_question_voter,priority:1;index:idx_vote_events_question_created_at,priority:1" json:"questionId"`
	VoterHash   string      `gorm:"column:voter_hash;type:char(64);not null;index:idx_vote_events_question_voter,priority:2" json:"voterHash"`
	Segment     Segment     `gorm:"column:segment;type:varchar(10);not null" json:"segment"`
	OptionIndex *int        `gorm:"column:option_index" json:"optionIndex,omitempty"`
	SliderValue *int        `gorm:"column:slider_value" json:"sliderValue,omitempty"`
	Emoji       string      `gorm:"column:emoji;type:text" json:"emoji,omitempty"`
	CreatedAt   time.Time   `gorm:"column:created_at;index:idx_vote_events_question_created_at,priority:2" json:"createdAt"`
}

// VotePayload is the tagged union carried by a vote submission. Exactly one of
// the branches must be set, matching the question type.
type VotePayload struct {
	OptionIndex *int   `json:"optionIndex,omitempty"`
	SliderValue *int   `json:"value,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
}

func ChoicePayload(optionIndex int) VotePayload {
	return VotePayload{OptionIndex: &optionIndex}
}

func SliderPayload(value int) VotePayload {
	return VotePayload{SliderValue: &value}
}

func EmojiPayload(emoji string) VotePayload {
	return VotePayload{Emoji: emoji}
}

func (e VoteEvent) Payload() VotePayload {
	return VotePayload{
		OptionIndex: e.OptionIndex,
		SliderValue: e.SliderValue,
		Emoji:       e.Emoji,
	}
}

// Tally is a derived view over a question's vote events; it is never stored.
// The event log stays the source of truth and the tally is always recomputable
// from it alone.
type Tally struct {
	QuestionID         QuestionID                   `json:"questionId"`
	Total              int64                        `json:"total"`
	BySegment          map[Segment]int64            `json:"bySegment"`
	ByOption           map[string]int64             `json:"byOption,omitempty"`
	BySegmentAndOption map[Segment]map[string]int64 `json:"bySegmentAndOption,omitempty"`
	Average            *float64                     `json:"average,omitempty"`
	VotesPerSecond     float64                      `json:"votesPerSecond"`
}

func (Session) TableName() string { return "sessions" }

func (Question) TableName() string { return "questions" }

func (VoteEvent) TableName() string { return "vote_events" }

// ValidVoterHash reports whether s has the shape of a client-side identity hash:
// 64 lowercase hex characters. The server only ever sees the hash, never the raw
// token it was derived from.
func ValidVoterHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ValidSegment reports whether s is one of the two known audience segments.
func ValidSegment(s Segment) bool {
	return s == SegmentRoom || s == SegmentRemote
}
