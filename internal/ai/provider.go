package ai

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Role is the provider-neutral author of a history entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior history entry. Attachments and options are not carried
// in history; only the live turn sends an image.
type Turn struct {
	Role Role
	Text string
}

type InlineData struct {
	MimeType   string
	Base64Data string
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Request is the outbound contract every provider accepts.
type Request struct {
	History    []Turn
	NewMessage string
	Attachment *InlineData
	Location   *Location
}

type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingChunk mirrors the provider's grounding metadata; at most one of
// Web and Maps is set.
type GroundingChunk struct {
	Web  *Source `json:"web,omitempty"`
	Maps *Source `json:"maps,omitempty"`
}

type Response struct {
	Text            string
	GroundingChunks []GroundingChunk
}

// Provider is the model-client collaborator. Implementations must be safe
// for concurrent use.
type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// ErrMissingCredential means the provider is misconfigured (no API key). It
// is returned before any network call.
var ErrMissingCredential = errors.New("ai: missing API credential")

// TransportError is any failure talking to the provider: network, timeout,
// non-2xx status or an error body.
type TransportError struct {
	Provider string
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(provider string, status int, err error) error {
	return &TransportError{Provider: provider, Status: status, Err: err}
}

func missingCredential(provider string) error {
	return errors.Wrapf(ErrMissingCredential, "%s: api key is required", provider)
}
