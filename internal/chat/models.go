package chat

import (
	"strings"
	"time"

	"github.com/suPer8Hu/medchat/internal/attachment"
)

// Role is serialized as "user" / "model" to stay compatible with histories
// written by the browser client; "assistant" is accepted on read.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "model"
)

func (r *Role) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "user":
		*r = RoleUser
	case "model", "assistant":
		*r = RoleAssistant
	default:
		*r = Role(b)
	}
	return nil
}

type GroundingKind string

const (
	GroundingWeb   GroundingKind = "web"
	GroundingPlace GroundingKind = "place"
)

type GroundingReference struct {
	Kind  GroundingKind `json:"kind"`
	URI   string        `json:"uri"`
	Title string        `json:"title"`
}

// Attachment is the user-visible form of an uploaded image. Data is a data
// URL so it renders directly as an image source.
type Attachment struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Payload converts back to the transport form.
func (a Attachment) Payload() (*attachment.Payload, error) {
	return attachment.FromClient(a.MimeType, a.Data)
}

// Message is one turn. Messages are immutable once appended.
type Message struct {
	ID                  string               `json:"id"`
	Role                Role                 `json:"role"`
	Text                string               `json:"text"`
	Attachment          *Attachment          `json:"attachment,omitempty"`
	GroundingReferences []GroundingReference `json:"groundingReferences,omitempty"`
	Options             []string             `json:"options,omitempty"`
	Timestamp           time.Time            `json:"timestamp"`
}

// Conversation is one chat thread. Messages are in insertion order, which is
// chronological order.
type Conversation struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
	Preview   string    `json:"preview"`
	Messages  []Message `json:"messages"`
}

// clone copies the message slice so callers cannot append into the store's
// backing array. Message values themselves are never mutated.
func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// Identity is the signed-in user. It is persisted as {name, phone}.
type Identity struct {
	DisplayName   string `json:"name"`
	ContactHandle string `json:"phone"`
}

// State is what a client renders for one conversation.
type State struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
	IsLoading      bool      `json:"isLoading"`
	Error          string    `json:"error,omitempty"`
}
