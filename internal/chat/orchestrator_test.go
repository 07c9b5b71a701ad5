package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/medchat/internal/ai"
	"github.com/suPer8Hu/medchat/internal/attachment"
	"github.com/suPer8Hu/medchat/internal/store/kv"
)

type scriptedProvider struct {
	mu    sync.Mutex
	reqs  []ai.Request
	reply func(req ai.Request) (*ai.Response, error)
}

func (p *scriptedProvider) Chat(_ context.Context, req ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	reply := p.reply
	p.mu.Unlock()
	if reply == nil {
		return &ai.Response{Text: "ok"}, nil
	}
	return reply(req)
}

func (p *scriptedProvider) last() ai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

func replyWith(text string, chunks ...ai.GroundingChunk) func(ai.Request) (*ai.Response, error) {
	return func(ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: text, GroundingChunks: chunks}, nil
	}
}

type turnRig struct {
	store *Store
	gate  *Gate
	prov  *scriptedProvider
	orch  *Orchestrator
	conv  Conversation
}

func newTurnRig(t *testing.T, opts ...OrchestratorOption) *turnRig {
	t.Helper()
	r := &turnRig{
		store: newTestStore(kv.NewMemory()),
		gate:  NewGate(4),
		prov:  &scriptedProvider{},
	}
	r.orch = NewOrchestrator(r.store, r.gate, r.prov, opts...)
	r.conv = r.store.CreateConversation()
	return r
}

func (r *turnRig) messages(t *testing.T) []Message {
	t.Helper()
	c, err := r.store.Get(r.conv.ID)
	require.NoError(t, err)
	return c.Messages
}

func TestSubmitTurn_Success(t *testing.T) {
	r := newTurnRig(t)
	r.prov.reply = replyWith(
		"Likely a tension headache. [OPTIONS: شراء الدواء, التواصل مع طبيب]",
		ai.GroundingChunk{Web: &ai.Source{URI: "https://w", Title: "web"}},
		ai.GroundingChunk{Maps: &ai.Source{URI: "https://maps/1", Title: "Clinic"}},
	)
	loc := &ai.Location{Lat: 30.04, Lng: 31.23}

	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "headache", Location: loc})
	require.NoError(t, err)

	require.Len(t, st.Messages, 3)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Error)

	user := st.Messages[1]
	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, "headache", user.Text)

	reply := st.Messages[2]
	assert.Equal(t, RoleAssistant, reply.Role)
	assert.Equal(t, "Likely a tension headache.", reply.Text)
	assert.Equal(t, []string{"شراء الدواء", "التواصل مع طبيب"}, reply.Options)
	require.Len(t, reply.GroundingReferences, 1)
	assert.Equal(t, "Clinic", reply.GroundingReferences[0].Title)

	req := r.prov.last()
	require.Len(t, req.History, 1)
	assert.Equal(t, ai.RoleModel, req.History[0].Role)
	assert.Equal(t, DisclaimerText, req.History[0].Text)
	assert.Equal(t, "headache", req.NewMessage)
	assert.Equal(t, loc, req.Location)
	assert.Nil(t, req.Attachment)
	assert.Equal(t, 1, r.gate.TurnCount())
}

func TestSubmitTurn_HistoryExcludesNewMessage(t *testing.T) {
	r := newTurnRig(t)
	_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "one"})
	require.NoError(t, err)
	_, err = r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "two"})
	require.NoError(t, err)

	req := r.prov.last()
	require.Len(t, req.History, 3)
	assert.Equal(t, "one", req.History[1].Text)
	assert.Equal(t, ai.RoleUser, req.History[1].Role)
	assert.Equal(t, "two", req.NewMessage)
}

func TestSubmitTurn_QuotaBoundary(t *testing.T) {
	r := newTurnRig(t)
	for i := 0; i < 3; i++ {
		_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "q"})
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.gate.TurnCount())

	_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "fourth"})
	require.NoError(t, err)
	assert.Equal(t, 4, r.gate.TurnCount())
	before := r.messages(t)

	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "fifth"})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Equal(t, 4, r.gate.TurnCount())
	assert.Len(t, st.Messages, len(before))
	assert.Len(t, r.messages(t), len(before))
	assert.Equal(t, 4, r.prov.calls())
}

func TestSubmitTurn_IdentityLiftsQuota(t *testing.T) {
	r := newTurnRig(t)
	for i := 0; i < 4; i++ {
		_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "q"})
		require.NoError(t, err)
	}
	_, err := r.gate.SignIn(Identity{DisplayName: "Amar", ContactHandle: "0100000000"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "more"})
		require.NoError(t, err)
	}
	assert.Equal(t, 14, r.prov.calls())
}

func TestSubmitTurn_TransportFailureKeepsUserMessage(t *testing.T) {
	r := newTurnRig(t)
	r.prov.reply = func(ai.Request) (*ai.Response, error) {
		return nil, &ai.TransportError{Provider: "gemini", Status: 503, Err: errors.New("unavailable")}
	}
	before := len(r.messages(t))

	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "hello"})
	require.NoError(t, err)
	assert.Len(t, st.Messages, before+1)
	assert.Equal(t, RoleUser, st.Messages[len(st.Messages)-1].Role)
	assert.Equal(t, TransportFailureText, st.Error)
	assert.False(t, st.IsLoading)

	r.prov.reply = replyWith("better now")
	st, err = r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "hello again"})
	require.NoError(t, err)
	assert.Empty(t, st.Error)
	assert.Len(t, st.Messages, before+3)
}

func TestSubmitTurn_MissingCredentialIsDistinct(t *testing.T) {
	r := newTurnRig(t)
	r.prov.reply = func(ai.Request) (*ai.Response, error) {
		return nil, errors.Wrap(ai.ErrMissingCredential, "gemini")
	}
	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, MissingCredentialText, st.Error)
	assert.NotEqual(t, TransportFailureText, st.Error)
}

func TestSubmitTurn_NilResponseIsFailure(t *testing.T) {
	r := newTurnRig(t)
	r.prov.reply = func(ai.Request) (*ai.Response, error) { return nil, nil }
	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, TransportFailureText, st.Error)
	assert.Len(t, st.Messages, 2)
}

func TestSubmitTurn_EmptyTurnRejected(t *testing.T) {
	r := newTurnRig(t)
	_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "   "})
	assert.True(t, errors.Is(err, ErrEmptyTurn))
	assert.Equal(t, 0, r.gate.TurnCount())
	assert.Len(t, r.messages(t), 1)
	assert.Equal(t, 0, r.prov.calls())
}

func TestSubmitTurn_UnknownConversation(t *testing.T) {
	r := newTurnRig(t)
	_, err := r.orch.SubmitTurn(context.Background(), "missing", TurnInput{Text: "hi"})
	assert.True(t, errors.Is(err, ErrConversationNotFound))
	assert.Equal(t, 0, r.gate.TurnCount())
}

func TestSubmitTurn_NonImageAttachmentRejected(t *testing.T) {
	r := newTurnRig(t)
	pdf := &attachment.Payload{MimeType: "application/pdf", Data: "JVBERi0="}
	_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "report", Attachment: pdf})
	assert.True(t, errors.Is(err, attachment.ErrUnsupportedType))
	assert.Len(t, r.messages(t), 1)
	assert.Equal(t, 0, r.gate.TurnCount())
}

func TestSubmitTurn_AttachmentOnly(t *testing.T) {
	r := newTurnRig(t)
	img, err := attachment.Encode("image/png", []byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, err)

	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Attachment: img})
	require.NoError(t, err)

	user := st.Messages[1]
	assert.Empty(t, user.Text)
	require.NotNil(t, user.Attachment)
	assert.Equal(t, img.DataURL(), user.Attachment.Data)
	assert.Nil(t, st.Messages[2].Attachment)

	req := r.prov.last()
	require.NotNil(t, req.Attachment)
	assert.Equal(t, "image/png", req.Attachment.MimeType)
	assert.Equal(t, img.Data, req.Attachment.Base64Data)
}

func TestSubmitTurn_RejectsSecondTurnInFlight(t *testing.T) {
	release := make(chan struct{})
	r := newTurnRig(t)
	r.prov.reply = func(ai.Request) (*ai.Response, error) {
		<-release
		return &ai.Response{Text: "done"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "first"})
		done <- err
	}()
	require.Eventually(t, func() bool { return r.orch.IsLoading(r.conv.ID) }, time.Second, 5*time.Millisecond)

	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "second"})
	assert.True(t, errors.Is(err, ErrTurnInFlight))
	assert.True(t, st.IsLoading)
	assert.Equal(t, 1, r.gate.TurnCount())

	other := r.store.CreateConversation()
	r.prov.mu.Lock()
	r.prov.reply = nil
	r.prov.mu.Unlock()
	_, err = r.orch.SubmitTurn(context.Background(), other.ID, TurnInput{Text: "elsewhere"})
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, r.orch.IsLoading(r.conv.ID))
	assert.Len(t, r.messages(t), 3)
}

func TestSubmitTurn_CancelledCallerStillCompletes(t *testing.T) {
	r := newTurnRig(t)
	r.prov.reply = func(req ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "finished"}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := r.orch.SubmitTurn(ctx, r.conv.ID, TurnInput{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "finished", st.Messages[2].Text)
}

func TestSubmitTurn_NotifiesObserver(t *testing.T) {
	var events []TurnEvent
	obs := ObserverFunc(func(_ context.Context, ev TurnEvent) error {
		events = append(events, ev)
		return errors.New("broker down")
	})
	r := newTurnRig(t, WithObserver(obs), WithSessionID("sid-1"))
	r.prov.reply = replyWith("x [OPTIONS: a, b, c]", ai.GroundingChunk{Maps: &ai.Source{URI: "u", Title: "t"}})

	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "hi"})
	require.NoError(t, err)
	assert.Empty(t, st.Error)

	r.prov.reply = func(ai.Request) (*ai.Response, error) { return nil, errors.New("timeout") }
	_, err = r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "again"})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "sid-1", events[0].SessionID)
	assert.Equal(t, OutcomeAnswered, events[0].Outcome)
	assert.Equal(t, 3, events[0].OptionsCount)
	assert.Equal(t, 1, events[0].PlacesCount)
	assert.Equal(t, OutcomeFailed, events[1].Outcome)
	assert.Equal(t, "timeout", events[1].Error)
}

func TestSubmitTurn_PanickingProviderReleasesTurn(t *testing.T) {
	r := newTurnRig(t)
	r.prov.reply = func(ai.Request) (*ai.Response, error) {
		panic("decoder blew up")
	}

	assert.Panics(t, func() {
		_, _ = r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "hello"})
	})
	assert.False(t, r.orch.IsLoading(r.conv.ID))
	st, err := r.orch.State(r.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, TransportFailureText, st.Error)

	r.prov.reply = replyWith("recovered")
	st, err = r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "hello again"})
	require.NoError(t, err)
	assert.Empty(t, st.Error)
	assert.Equal(t, "recovered", st.Messages[len(st.Messages)-1].Text)
}

func TestSubmitTurn_NewTurnClearsPreviousError(t *testing.T) {
	r := newTurnRig(t)
	r.prov.reply = func(ai.Request) (*ai.Response, error) {
		return nil, errors.New("connection reset")
	}
	st, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "first"})
	require.NoError(t, err)
	require.Equal(t, TransportFailureText, st.Error)

	release := make(chan struct{})
	r.prov.mu.Lock()
	r.prov.reply = func(ai.Request) (*ai.Response, error) {
		<-release
		return &ai.Response{Text: "done"}, nil
	}
	r.prov.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := r.orch.SubmitTurn(context.Background(), r.conv.ID, TurnInput{Text: "second"})
		done <- err
	}()
	require.Eventually(t, func() bool { return r.orch.IsLoading(r.conv.ID) }, time.Second, 5*time.Millisecond)

	st, err = r.orch.State(r.conv.ID)
	require.NoError(t, err)
	assert.True(t, st.IsLoading)
	assert.Empty(t, st.Error)

	close(release)
	require.NoError(t, <-done)
}
