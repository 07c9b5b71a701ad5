package chat

import "github.com/pkg/errors"

var (
	ErrQuotaExceeded        = errors.New("chat: free turn limit reached, sign in to continue")
	ErrEmptyTurn            = errors.New("chat: turn needs text or an attachment")
	ErrTurnInFlight         = errors.New("chat: a turn is already in flight for this conversation")
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrInvalidIdentity      = errors.New("chat: name must be longer than 2 characters and phone longer than 8")
)
