package abuse

import (
	"context"

	"github.com/marcelojr/crowdpulse/internal/domain"
)

// Noop is the guard used when rate limiting is disabled.
type Noop struct{}

func NewNoop() Noop {
	return Noop{}
}

func (Noop) Allow(ctx context.Context, questionID domain.QuestionID, voterHash string) error {
	return nil
}

var _ domain.AbuseGuard = Noop{}
