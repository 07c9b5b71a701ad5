package chat

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/medchat/internal/ai"
	"github.com/suPer8Hu/medchat/internal/logging"
	"github.com/suPer8Hu/medchat/internal/store/kv"
)

// Workspace is everything one browser profile owns: its gate, its
// conversations and the turn runner over them. Durable keys are namespaced
// by the profile id.
type Workspace struct {
	ID string

	store   *Store
	gate    *Gate
	turns   *Orchestrator
	profile *ProfileStore
	log     *log.Entry
}

type WorkspaceOptions struct {
	TurnLimit    int
	Observer     TurnObserver
	Logger       *log.Entry
	StoreOptions []StoreOption
}

// NewWorkspace reads the saved profile and history once, then opens a fresh
// conversation.
func NewWorkspace(ctx context.Context, id string, backend kv.Store, provider ai.Provider, opts WorkspaceOptions) *Workspace {
	ns := kv.WithNamespace(backend, "profile:"+id)
	logger := logging.Or(opts.Logger).WithField("session_id", id)

	w := &Workspace{
		ID:      id,
		gate:    NewGate(opts.TurnLimit),
		profile: NewProfileStore(ns),
		log:     logger,
	}
	w.store = NewStore(ns, append([]StoreOption{WithStoreLogger(logger)}, opts.StoreOptions...)...)
	w.turns = NewOrchestrator(w.store, w.gate, provider,
		WithSessionID(id),
		WithObserver(opts.Observer),
		WithLogger(logger),
		WithOnAppend(w.autosave),
	)

	if ident, ok, err := w.profile.Load(ctx); err != nil {
		logger.WithError(err).Warn("profile unreadable, continuing anonymous")
	} else if ok {
		w.gate.restore(ident)
	}
	w.store.LoadAll(ctx)
	w.store.CreateConversation()
	return w
}

// autosave persists a conversation once it has more than the disclaimer and
// the user is identified.
func (w *Workspace) autosave(ctx context.Context, conversationID string) {
	if _, ok := w.gate.Identity(); !ok {
		return
	}
	c, err := w.store.Get(conversationID)
	if err != nil || len(c.Messages) <= 1 {
		return
	}
	if err := w.store.Persist(ctx, conversationID); err != nil {
		w.log.WithError(err).WithField("conversation_id", conversationID).Warn("persist conversation failed")
	}
}

func (w *Workspace) Gate() *Gate { return w.gate }

func (w *Workspace) SignIn(ctx context.Context, id Identity) (Identity, error) {
	ident, err := w.gate.SignIn(id)
	if err != nil {
		return Identity{}, err
	}
	if err := w.profile.Save(ctx, ident); err != nil {
		return Identity{}, err
	}
	if active, err := w.store.Active(); err == nil {
		w.autosave(ctx, active.ID)
	}
	return ident, nil
}

// SignOut forgets the identity and starts over with a fresh conversation.
func (w *Workspace) SignOut(ctx context.Context) (Conversation, error) {
	w.gate.SignOut()
	err := w.profile.Clear(ctx)
	return w.store.CreateConversation(), err
}

func (w *Workspace) NewConversation() Conversation {
	return w.store.CreateConversation()
}

func (w *Workspace) Active() (State, error) {
	c, err := w.store.Active()
	if err != nil {
		return State{}, err
	}
	return w.turns.State(c.ID)
}

func (w *Workspace) Open(conversationID string) (State, error) {
	if _, err := w.store.Open(conversationID); err != nil {
		return State{}, err
	}
	return w.turns.State(conversationID)
}

func (w *Workspace) State(conversationID string) (State, error) {
	return w.turns.State(conversationID)
}

func (w *Workspace) Submit(ctx context.Context, conversationID string, in TurnInput) (State, error) {
	return w.turns.SubmitTurn(ctx, conversationID, in)
}

// History lists saved conversations, most recent first.
func (w *Workspace) History(ctx context.Context) []Conversation {
	return w.store.LoadAll(ctx)
}

func (w *Workspace) ClearHistory(ctx context.Context) error {
	return errors.WithMessage(w.store.ClearAll(ctx), "workspace "+w.ID)
}
