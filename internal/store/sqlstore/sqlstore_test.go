package sqlstore

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/medchat/internal/store/kv"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	return db
}

func TestStore_RoundTripAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))
	require.NoError(t, s.Migrate())

	_, err := s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, kv.ErrNotFound))

	require.NoError(t, s.Set(ctx, "p1:history", []byte(`[1]`)))
	require.NoError(t, s.Set(ctx, "p1:history", []byte(`[1,2]`)))

	got, err := s.Get(ctx, "p1:history")
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(got))

	var n int64
	require.NoError(t, s.db.Model(&Entry{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Delete(ctx, "p1:history"))
	_, err = s.Get(ctx, "p1:history")
	assert.True(t, errors.Is(err, kv.ErrNotFound))
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	s := New(openTestDB(t))
	require.NoError(t, s.Migrate())
	assert.NoError(t, s.Delete(context.Background(), "never-written"))
}
