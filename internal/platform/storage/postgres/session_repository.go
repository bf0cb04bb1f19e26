package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/marcelojr/crowdpulse/internal/domain"
)

// SessionRepository maps sessions onto their GORM table.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type sessionModel struct {
	ID                    string    `gorm:"column:id;primaryKey"`
	Name                  string    `gorm:"column:name"`
	JoinCode              string    `gorm:"column:join_code;uniqueIndex"`
	Mode                  string    `gorm:"column:mode"`
	BroadcastDelaySeconds int       `gorm:"column:broadcast_delay_seconds"`
	CreatedAt             time.Time `gorm:"column:created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at"`
}

func (sessionModel) TableName() string {
	return "sessions"
}

func (m sessionModel) toDomain() domain.Session {
	return domain.Session{
		ID:                    domain.SessionID(m.ID),
		Name:                  m.Name,
		JoinCode:              m.JoinCode,
		Mode:                  domain.SessionMode(m.Mode),
		BroadcastDelaySeconds: m.BroadcastDelaySeconds,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func fromDomainSession(s domain.Session) sessionModel {
	return sessionModel{
		ID:                    string(s.ID),
		Name:                  s.Name,
		JoinCode:              s.JoinCode,
		Mode:                  string(s.Mode),
		BroadcastDelaySeconds: s.BroadcastDelaySeconds,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func (r *SessionRepository) Create(ctx context.Context, s domain.Session) error {
	model := fromDomainSession(s)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("gorm sessions: insert: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	var model sessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("gorm sessions: find by id: %w", err)
	}
	return model.toDomain(), nil
}

func (r *SessionRepository) FindByJoinCode(ctx context.Context, code string) (domain.Session, error) {
	var model sessionModel
	if err := r.db.WithContext(ctx).First(&model, "join_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("gorm sessions: find by join code: %w", err)
	}
	return model.toDomain(), nil
}

var _ domain.SessionRepository = (*SessionRepository)(nil)
