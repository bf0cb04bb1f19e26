package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/marcelojr/crowdpulse/internal/domain"
)

// QuestionRepository maps questions onto their GORM table and owns the
// column-level lifecycle updates the state machine needs.
type QuestionRepository struct {
	db *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

type questionModel struct {
	ID              string     `gorm:"column:id;primaryKey"`
	SessionID       string     `gorm:"column:session_id;index"`
	Position        int        `gorm:"column:position"`
	Type            string     `gorm:"column:type"`
	Prompt          string     `gorm:"column:prompt"`
	Options         string     `gorm:"column:options"`
	State           string     `gorm:"column:state"`
	Revealed        bool       `gorm:"column:revealed"`
	Frozen          bool       `gorm:"column:frozen"`
	DurationSeconds int        `gorm:"column:duration_seconds"`
	OpenedAt        *time.Time `gorm:"column:opened_at"`
	ClosedAt        *time.Time `gorm:"column:closed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (questionModel) TableName() string {
	return "questions"
}

func (m questionModel) toDomain() (domain.Question, error) {
	var options []string
	if m.Options != "" {
		if err := json.Unmarshal([]byte(m.Options), &options); err != nil {
			return domain.Question{}, fmt.Errorf("gorm questions: decode options: %w", err)
		}
	}
	return domain.Question{
		ID:              domain.QuestionID(m.ID),
		SessionID:       domain.SessionID(m.SessionID),
		Position:        m.Position,
		Type:            domain.QuestionType(m.Type),
		Prompt:          m.Prompt,
		Options:         options,
		State:           domain.QuestionState(m.State),
		Revealed:        m.Revealed,
		Frozen:          m.Frozen,
		DurationSeconds: m.DurationSeconds,
		OpenedAt:        m.OpenedAt,
		ClosedAt:        m.ClosedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

func fromDomainQuestion(q domain.Question) (questionModel, error) {
	options := ""
	if len(q.Options) > 0 {
		raw, err := json.Marshal(q.Options)
		if err != nil {
			return questionModel{}, fmt.Errorf("gorm questions: encode options: %w", err)
		}
		options = string(raw)
	}
	return questionModel{
		ID:              string(q.ID),
		SessionID:       string(q.SessionID),
		Position:        q.Position,
		Type:            string(q.Type),
		Prompt:          q.Prompt,
		Options:         options,
		State:           string(q.State),
		Revealed:        q.Revealed,
		Frozen:          q.Frozen,
		DurationSeconds: q.DurationSeconds,
		OpenedAt:        q.OpenedAt,
		ClosedAt:        q.ClosedAt,
		CreatedAt:       q.CreatedAt,
		UpdatedAt:       q.UpdatedAt,
	}, nil
}

func (r *QuestionRepository) Create(ctx context.Context, q domain.Question) error {
	model, err := fromDomainQuestion(q)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("gorm questions: insert: %w", err)
	}
	return nil
}

func (r *QuestionRepository) FindByID(ctx context.Context, id domain.QuestionID) (domain.Question, error) {
	var model questionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Question{}, domain.ErrNotFound
		}
		return domain.Question{}, fmt.Errorf("gorm questions: find by id: %w", err)
	}
	return model.toDomain()
}

func (r *QuestionRepository) ListBySession(ctx context.Context, sessionID domain.SessionID) ([]domain.Question, error) {
	var models []questionModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm questions: list by session: %w", err)
	}

	result := make([]domain.Question, len(models))
	for i, model := range models {
		q, err := model.toDomain()
		if err != nil {
			return nil, err
		}
		result[i] = q
	}
	return result, nil
}

func (r *QuestionRepository) FindLiveBySession(ctx context.Context, sessionID domain.SessionID) (domain.Question, error) {
	var model questionModel
	if err := r.db.WithContext(ctx).
		First(&model, "session_id = ? AND state = ?", sessionID, string(domain.StateLive)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Question{}, domain.ErrNotFound
		}
		return domain.Question{}, fmt.Errorf("gorm questions: find live: %w", err)
	}
	return model.toDomain()
}

func (r *QuestionRepository) SetLive(ctx context.Context, id domain.QuestionID, openedAt time.Time) error {
	return r.updateLifecycle(ctx, id, map[string]any{
		"state":     string(domain.StateLive),
		"opened_at": openedAt,
		"closed_at": nil,
	})
}

func (r *QuestionRepository) SetClosed(ctx context.Context, id domain.QuestionID, closedAt time.Time) error {
	return r.updateLifecycle(ctx, id, map[string]any{
		"state":     string(domain.StateClosed),
		"closed_at": closedAt,
	})
}

func (r *QuestionRepository) SetRevealed(ctx context.Context, id domain.QuestionID, revealed bool) error {
	return r.updateLifecycle(ctx, id, map[string]any{"revealed": revealed})
}

func (r *QuestionRepository) SetFrozen(ctx context.Context, id domain.QuestionID, frozen bool) error {
	return r.updateLifecycle(ctx, id, map[string]any{"frozen": frozen})
}

func (r *QuestionRepository) ResetToDraft(ctx context.Context, id domain.QuestionID) error {
	return r.updateLifecycle(ctx, id, map[string]any{
		"state":     string(domain.StateDraft),
		"revealed":  false,
		"frozen":    false,
		"opened_at": nil,
		"closed_at": nil,
	})
}

func (r *QuestionRepository) updateLifecycle(ctx context.Context, id domain.QuestionID, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&questionModel{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("gorm questions: update lifecycle: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.QuestionRepository = (*QuestionRepository)(nil)
