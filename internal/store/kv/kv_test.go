package kv

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	buf := []byte("v1")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'X' // caller mutation must not leak into the store

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNamespaced_IsolatesKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := WithNamespace(m, "a")
	b := WithNamespace(m, "b")

	require.NoError(t, a.Set(ctx, "history", []byte("A")))
	require.NoError(t, b.Set(ctx, "history", []byte("B")))

	got, err := a.Get(ctx, "history")
	require.NoError(t, err)
	assert.Equal(t, "A", string(got))

	raw, err := m.Get(ctx, "b:history")
	require.NoError(t, err)
	assert.Equal(t, "B", string(raw))

	require.NoError(t, a.Delete(ctx, "history"))
	_, err = b.Get(ctx, "history")
	assert.NoError(t, err)
}
