package audit

import (
	"time"

	"github.com/suPer8Hu/medchat/internal/chat"
)

// TurnRecord is one completed turn as seen by the event consumer. It holds
// counts and outcome only, no conversation content.
type TurnRecord struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID        string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"event_id"`
	SessionID      string    `gorm:"type:varchar(64);index:idx_turn_session_at,priority:1;not null" json:"session_id"`
	ConversationID string    `gorm:"type:varchar(64);index;not null" json:"conversation_id"`
	Outcome        string    `gorm:"type:varchar(16);index;not null" json:"outcome"`
	Identified     bool      `json:"identified"`
	OptionsCount   int       `json:"options_count"`
	PlacesCount    int       `json:"places_count"`
	Error          *string   `gorm:"type:text" json:"error,omitempty"`
	At             time.Time `gorm:"index:idx_turn_session_at,priority:2" json:"at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (TurnRecord) TableName() string { return "turn_audit" }

func FromEvent(eventID string, ev chat.TurnEvent) *TurnRecord {
	rec := &TurnRecord{
		EventID:        eventID,
		SessionID:      ev.SessionID,
		ConversationID: ev.ConversationID,
		Outcome:        string(ev.Outcome),
		Identified:     ev.Identified,
		OptionsCount:   ev.OptionsCount,
		PlacesCount:    ev.PlacesCount,
		At:             ev.At,
	}
	if ev.Error != "" {
		e := ev.Error
		rec.Error = &e
	}
	return rec
}
