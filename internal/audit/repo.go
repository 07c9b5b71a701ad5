package audit

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Insert stores the record once per event id; redelivered events are no-ops.
func (r *Repo) Insert(ctx context.Context, rec *TurnRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(rec).Error
}

// ListBySession returns a session's records newest first.
func (r *Repo) ListBySession(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []TurnRecord
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
