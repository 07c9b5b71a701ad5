package chat

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeFailed   Outcome = "failed"
)

// TurnEvent summarizes one completed turn. It carries counts only, never
// message text or attachments.
type TurnEvent struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	Outcome        Outcome   `json:"outcome"`
	Identified     bool      `json:"identified"`
	OptionsCount   int       `json:"options_count"`
	PlacesCount    int       `json:"places_count"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// TurnObserver is told about every turn that reached the model client.
type TurnObserver interface {
	TurnCompleted(ctx context.Context, ev TurnEvent) error
}

type ObserverFunc func(ctx context.Context, ev TurnEvent) error

func (f ObserverFunc) TurnCompleted(ctx context.Context, ev TurnEvent) error { return f(ctx, ev) }
