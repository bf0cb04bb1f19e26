package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/marcelojr/crowdpulse/internal/domain"
)

// VoteEventRepository stores the append-only vote log. Events are never
// updated; the only delete path is the per-question cascade used by reset.
type VoteEventRepository struct {
	db *gorm.DB
}

func NewVoteEventRepository(db *gorm.DB) *VoteEventRepository {
	return &VoteEventRepository{db: db}
}

type voteEventModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	SessionID   string    `gorm:"column:session_id;index"`
	QuestionID  string    `gorm:"column:question_id;index"`
	VoterHash   string    `gorm:"column:voter_hash"`
	Segment     string    `gorm:"column:segment"`
	OptionIndex *int      `gorm:"column:option_index"`
	SliderValue *int      `gorm:"column:slider_value"`
	Emoji       string    `gorm:"column:emoji"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (voteEventModel) TableName() string {
	return "vote_events"
}

func (m voteEventModel) toDomain() domain.VoteEvent {
	return domain.VoteEvent{
		ID:          domain.VoteEventID(m.ID),
		SessionID:   domain.SessionID(m.SessionID),
		QuestionID:  domain.QuestionID(m.QuestionID),
		VoterHash:   m.VoterHash,
		Segment:     domain.Segment(m.Segment),
		OptionIndex: m.OptionIndex,
		SliderValue: m.SliderValue,
		Emoji:       m.Emoji,
		CreatedAt:   m.CreatedAt,
	}
}

func fromDomainVoteEvent(e domain.VoteEvent) voteEventModel {
	return voteEventModel{
		ID:          string(e.ID),
		SessionID:   string(e.SessionID),
		QuestionID:  string(e.QuestionID),
		VoterHash:   e.VoterHash,
		Segment:     string(e.Segment),
		OptionIndex: e.OptionIndex,
		SliderValue: e.SliderValue,
		Emoji:       e.Emoji,
		CreatedAt:   e.CreatedAt,
	}
}

func (r *VoteEventRepository) Append(ctx context.Context, e domain.VoteEvent) error {
	model := fromDomainVoteEvent(e)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("gorm vote events: insert: %w", err)
	}
	return nil
}

func (r *VoteEventRepository) ListByQuestion(ctx context.Context, questionID domain.QuestionID) ([]domain.VoteEvent, error) {
	var models []voteEventModel
	if err := r.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		// ULIDs sort by creation instant, which breaks created_at ties.
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm vote events: list by question: %w", err)
	}

	result := make([]domain.VoteEvent, len(models))
	for i, model := range models {
		result[i] = model.toDomain()
	}
	return result, nil
}

func (r *VoteEventRepository) HasVoted(ctx context.Context, questionID domain.QuestionID, voterHash string) (bool, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&voteEventModel{}).
		Where("question_id = ? AND voter_hash = ?", questionID, voterHash).
		Count(&total).Error; err != nil {
		return false, fmt.Errorf("gorm vote events: has voted: %w", err)
	}
	return total > 0, nil
}

func (r *VoteEventRepository) DeleteByQuestion(ctx context.Context, questionID domain.QuestionID) error {
	if err := r.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Delete(&voteEventModel{}).Error; err != nil {
		return fmt.Errorf("gorm vote events: delete by question: %w", err)
	}
	return nil
}

var _ domain.VoteEventRepository = (*VoteEventRepository)(nil)
