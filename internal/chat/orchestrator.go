package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/medchat/internal/ai"
	"github.com/suPer8Hu/medchat/internal/attachment"
	"github.com/suPer8Hu/medchat/internal/common"
	"github.com/suPer8Hu/medchat/internal/logging"
)

// TurnInput is what the user sends in one turn. Text may be empty when an
// attachment is present.
type TurnInput struct {
	Text       string
	Attachment *attachment.Payload
	Location   *ai.Location
}

// Orchestrator runs turns against the model client. Each conversation is
// either idle or has exactly one turn in flight.
type Orchestrator struct {
	store     *Store
	gate      *Gate
	provider  ai.Provider
	observer  TurnObserver
	sessionID string
	log       *log.Entry
	now       func() time.Time
	newID     func() string

	// onAppend runs after every message append, outside any lock.
	onAppend func(ctx context.Context, conversationID string)

	mu       sync.Mutex
	inFlight map[string]bool
	errs     map[string]string
}

type OrchestratorOption func(*Orchestrator)

func WithObserver(obs TurnObserver) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithSessionID(id string) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionID = id }
}

func WithLogger(l *log.Entry) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

func WithOnAppend(fn func(ctx context.Context, conversationID string)) OrchestratorOption {
	return func(o *Orchestrator) { o.onAppend = fn }
}

func WithTurnClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(store *Store, gate *Gate, provider ai.Provider, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		gate:     gate,
		provider: provider,
		now:      time.Now,
		newID:    common.MustULID,
		inFlight: make(map[string]bool),
		errs:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logging.Or(o.log)
	return o
}

// IsLoading reports whether a turn is in flight for the conversation.
func (o *Orchestrator) IsLoading(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[conversationID]
}

// State returns what a client renders for the conversation.
func (o *Orchestrator) State(conversationID string) (State, error) {
	c, err := o.store.Get(conversationID)
	if err != nil {
		return State{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{
		ConversationID: c.ID,
		Messages:       c.Messages,
		IsLoading:      o.inFlight[c.ID],
		Error:          o.errs[c.ID],
	}, nil
}

// SubmitTurn sends one user turn and blocks until the model client answers
// or fails. Rejected turns (quota, empty, in flight, unknown conversation,
// bad attachment) return an error and change nothing. A model-client
// failure is not an error: the user message stays, no reply is appended and
// the returned state carries the error text.
func (o *Orchestrator) SubmitTurn(ctx context.Context, conversationID string, in TurnInput) (State, error) {
	if !o.gate.Check() {
		return o.stateOrEmpty(conversationID), ErrQuotaExceeded
	}
	if strings.TrimSpace(in.Text) == "" && in.Attachment == nil {
		return o.stateOrEmpty(conversationID), ErrEmptyTurn
	}
	if in.Attachment != nil {
		if err := in.Attachment.Validate(); err != nil {
			return o.stateOrEmpty(conversationID), err
		}
	}
	if _, err := o.store.Get(conversationID); err != nil {
		return State{}, err
	}

	if err := o.begin(conversationID); err != nil {
		return o.stateOrEmpty(conversationID), err
	}
	defer func() {
		if r := recover(); r != nil {
			o.finish(conversationID, TransportFailureText)
			panic(r)
		}
	}()
	if !o.gate.CheckAndMaybeConsume() {
		o.release(conversationID)
		return o.stateOrEmpty(conversationID), ErrQuotaExceeded
	}

	conv, err := o.store.Get(conversationID)
	if err != nil {
		o.release(conversationID)
		return State{}, err
	}
	req := ai.Request{
		History:    historyOf(conv.Messages),
		NewMessage: in.Text,
		Location:   in.Location,
	}
	userMsg := Message{
		ID:        o.newID(),
		Role:      RoleUser,
		Text:      in.Text,
		Timestamp: o.now(),
	}
	if in.Attachment != nil {
		userMsg.Attachment = &Attachment{MimeType: in.Attachment.MimeType, Data: in.Attachment.DataURL()}
		req.Attachment = &ai.InlineData{MimeType: in.Attachment.MimeType, Base64Data: in.Attachment.Data}
	}
	if err := o.store.AppendMessage(conversationID, userMsg); err != nil {
		o.release(conversationID)
		return State{}, err
	}

	// The turn runs to completion even if the caller goes away.
	turnCtx := context.WithoutCancel(ctx)
	o.appended(turnCtx, conversationID)
	start := time.Now()
	resp, callErr := o.provider.Chat(turnCtx, req)
	if callErr == nil && resp == nil {
		callErr = errors.New("chat: model client returned no response")
	}

	_, identified := o.gate.Identity()
	ev := TurnEvent{SessionID: o.sessionID, ConversationID: conversationID, Identified: identified, At: o.now()}
	logger := o.log.WithFields(log.Fields{
		"conversation_id": conversationID,
		"cost":            time.Since(start).String(),
	})

	if callErr != nil {
		text := TransportFailureText
		if errors.Is(callErr, ai.ErrMissingCredential) {
			text = MissingCredentialText
		}
		logger.WithError(callErr).Warn("turn failed")
		ev.Outcome = OutcomeFailed
		ev.Error = callErr.Error()
		o.finish(conversationID, text)
		o.notify(turnCtx, ev)
		return o.stateOrEmpty(conversationID), nil
	}

	parsed := ParseResponse(resp.Text, resp.GroundingChunks)
	reply := Message{
		ID:                  o.newID(),
		Role:                RoleAssistant,
		Text:                parsed.Text,
		Options:             parsed.Options,
		GroundingReferences: parsed.References,
		Timestamp:           o.now(),
	}
	if err := o.store.AppendMessage(conversationID, reply); err != nil {
		o.release(conversationID)
		return State{}, err
	}
	o.finish(conversationID, "")
	o.appended(turnCtx, conversationID)
	logger.WithField("options", len(parsed.Options)).Debug("turn answered")

	ev.Outcome = OutcomeAnswered
	ev.OptionsCount = len(parsed.Options)
	ev.PlacesCount = len(parsed.References)
	o.notify(turnCtx, ev)
	return o.stateOrEmpty(conversationID), nil
}

func (o *Orchestrator) begin(conversationID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[conversationID] {
		return ErrTurnInFlight
	}
	o.inFlight[conversationID] = true
	delete(o.errs, conversationID)
	return nil
}

func (o *Orchestrator) release(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, conversationID)
}

// finish leaves the sending state and records the turn's error text; an
// empty text clears any previous error.
func (o *Orchestrator) finish(conversationID, errText string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, conversationID)
	if errText == "" {
		delete(o.errs, conversationID)
		return
	}
	o.errs[conversationID] = errText
}

func (o *Orchestrator) appended(ctx context.Context, conversationID string) {
	if o.onAppend != nil {
		o.onAppend(ctx, conversationID)
	}
}

func (o *Orchestrator) notify(ctx context.Context, ev TurnEvent) {
	if o.observer == nil {
		return
	}
	if err := o.observer.TurnCompleted(ctx, ev); err != nil {
		o.log.WithError(err).WithField("conversation_id", ev.ConversationID).Warn("turn observer failed")
	}
}

func (o *Orchestrator) stateOrEmpty(conversationID string) State {
	st, err := o.State(conversationID)
	if err != nil {
		return State{ConversationID: conversationID}
	}
	return st
}

// historyOf maps stored messages to the transport shape. Attachments and
// options stay local.
func historyOf(msgs []Message) []ai.Turn {
	out := make([]ai.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := ai.RoleUser
		if m.Role == RoleAssistant {
			role = ai.RoleModel
		}
		out = append(out, ai.Turn{Role: role, Text: m.Text})
	}
	return out
}
