package chat

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/medchat/internal/store/kv"
)

// ProfileKey is the durable entry holding the signed-in identity.
const ProfileKey = "ai_amar_user"

type ProfileStore struct {
	kv kv.Store
}

func NewProfileStore(backend kv.Store) *ProfileStore {
	return &ProfileStore{kv: backend}
}

// Load returns the saved identity. Missing or unreadable data counts as
// anonymous; only backend failures are returned.
func (p *ProfileStore) Load(ctx context.Context) (Identity, bool, error) {
	raw, err := p.kv.Get(ctx, ProfileKey)
	if errors.Is(err, kv.ErrNotFound) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, errors.Wrap(err, "chat: read profile")
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil || id.DisplayName == "" {
		return Identity{}, false, nil
	}
	return id, true, nil
}

func (p *ProfileStore) Save(ctx context.Context, id Identity) error {
	b, err := json.Marshal(id)
	if err != nil {
		return errors.Wrap(err, "chat: encode profile")
	}
	return errors.Wrap(p.kv.Set(ctx, ProfileKey, b), "chat: write profile")
}

func (p *ProfileStore) Clear(ctx context.Context) error {
	return errors.Wrap(p.kv.Delete(ctx, ProfileKey), "chat: clear profile")
}
