package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/medchat/internal/ai"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/store/kv"
)

type echoProvider struct{}

func (echoProvider) Chat(_ context.Context, req ai.Request) (*ai.Response, error) {
	return &ai.Response{Text: req.NewMessage}, nil
}

func TestWorkspaces_ReusesWhileActive(t *testing.T) {
	ctx := context.Background()
	ws := NewWorkspaces(kv.NewMemory(), echoProvider{}, 300*time.Millisecond, chat.WorkspaceOptions{TurnLimit: 4})

	first := ws.Get(ctx, "sid-1")
	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		assert.Same(t, first, ws.Get(ctx, "sid-1"))
	}
	assert.NotSame(t, first, ws.Get(ctx, "sid-2"))
	assert.Equal(t, 2, ws.Len())
}

func TestWorkspaces_IdleWorkspaceIsRebuilt(t *testing.T) {
	ctx := context.Background()
	ws := NewWorkspaces(kv.NewMemory(), echoProvider{}, 50*time.Millisecond, chat.WorkspaceOptions{TurnLimit: 4})

	first := ws.Get(ctx, "sid-1")
	_, err := first.SignIn(ctx, chat.Identity{DisplayName: "Amar", ContactHandle: "01000000000"})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	second := ws.Get(ctx, "sid-1")
	assert.NotSame(t, first, second)

	ident, ok := second.Gate().Identity()
	require.True(t, ok)
	assert.Equal(t, "Amar", ident.DisplayName)
}

func TestWorkspaces_DefaultTTL(t *testing.T) {
	ws := NewWorkspaces(kv.NewMemory(), echoProvider{}, 0, chat.WorkspaceOptions{})
	first := ws.Get(context.Background(), "sid")
	assert.Same(t, first, ws.Get(context.Background(), "sid"))
}
