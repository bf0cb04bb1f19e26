// Package migrations holds the versioned gormigrate steps applied at startup.
package migrations

import (
	"fmt"

	gormigrate "github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/marcelojr/crowdpulse/internal/domain"
)

func Run(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("migrations: nil db")
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202608200001_init_schema",
			Migrate: func(tx *gorm.DB) error {
				// The (question_id, voter_hash) index stays non-unique on
				// purpose: emoji questions legitimately hold several events per
				// voter, so one-vote enforcement lives in the serialized guard.
				return tx.AutoMigrate(&domain.Session{}, &domain.Question{}, &domain.VoteEvent{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("vote_events", "questions", "sessions")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migrations: apply failed: %w", err)
	}

	return nil
}
