package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/medchat/internal/common"
	"github.com/suPer8Hu/medchat/internal/logging"
	"github.com/suPer8Hu/medchat/internal/store/kv"
)

// HistoryKey is the durable entry holding the saved conversation list.
const HistoryKey = "ai_amar_history"

var errCorruptHistory = errors.New("chat: saved history is corrupt")

// savedChat is the persisted shape of one conversation.
type savedChat struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
	Messages  []Message `json:"messages"`
}

// Store owns every conversation known to one browser profile: the in-memory
// working set and the persisted list behind it. All methods are safe for
// concurrent use; writes to the persisted list are read-modify-write under a
// single lock.
type Store struct {
	mu       sync.Mutex
	kv       kv.Store
	key      string
	convs    map[string]*Conversation
	activeID string

	log   *log.Entry
	now   func() time.Time
	newID func() string
}

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func WithIDs(newID func() string) StoreOption {
	return func(s *Store) { s.newID = newID }
}

func WithStoreLogger(l *log.Entry) StoreOption {
	return func(s *Store) { s.log = l }
}

func NewStore(backend kv.Store, opts ...StoreOption) *Store {
	s := &Store{
		kv:    backend,
		key:   HistoryKey,
		convs: make(map[string]*Conversation),
		now:   time.Now,
		newID: common.MustULID,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logging.Or(s.log)
	return s
}

// CreateConversation starts a thread holding only the disclaimer and makes
// it active. Nothing is persisted.
func (s *Store) CreateConversation() Conversation {
	now := s.now()
	c := &Conversation{
		ID:        s.newID(),
		UpdatedAt: now,
		Preview:   DefaultPreview,
		Messages: []Message{{
			ID:        disclaimerID,
			Role:      RoleAssistant,
			Text:      DisclaimerText,
			Timestamp: now,
		}},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c
	s.activeID = c.ID
	return c.clone()
}

// Active returns the conversation that new turns go to.
func (s *Store) Active() (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[s.activeID]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return c.clone(), nil
}

// Open makes a known conversation active.
func (s *Store) Open(id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, errors.Wrapf(ErrConversationNotFound, "id %q", id)
	}
	s.activeID = id
	return c.clone(), nil
}

func (s *Store) Get(id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, errors.Wrapf(ErrConversationNotFound, "id %q", id)
	}
	return c.clone(), nil
}

// AppendMessage adds msg at the end of the conversation and touches it.
func (s *Store) AppendMessage(id string, msg Message) error {
	if msg.Role == RoleUser && (len(msg.Options) > 0 || len(msg.GroundingReferences) > 0) {
		return errors.New("chat: options and grounding are assistant-only")
	}
	if msg.Role == RoleAssistant && msg.Attachment != nil {
		return errors.New("chat: attachments are user-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return errors.Wrapf(ErrConversationNotFound, "id %q", id)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.Timestamp
	return nil
}

// Persist recomputes the preview and upserts the conversation at the front
// of the saved list.
func (s *Store) Persist(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return errors.Wrapf(ErrConversationNotFound, "id %q", id)
	}
	c.Preview = previewOf(c.Messages)

	saved, err := s.readLocked(ctx)
	switch {
	case errors.Is(err, errCorruptHistory):
		s.log.WithError(err).Warn("saved history unreadable, overwriting")
		saved = nil
	case err != nil:
		return err
	}
	entry := savedChat{
		ID:        c.ID,
		Date:      formatDate(c.UpdatedAt),
		Preview:   c.Preview,
		UpdatedAt: c.UpdatedAt,
		Messages:  append([]Message(nil), c.Messages...),
	}
	updated := make([]savedChat, 0, len(saved)+1)
	updated = append(updated, entry)
	for _, sc := range saved {
		if sc.ID != c.ID {
			updated = append(updated, sc)
		}
	}
	return s.writeLocked(ctx, updated)
}

// LoadAll returns the saved conversations, most recently persisted first,
// and adds them to the working set. A missing or corrupt entry yields an
// empty list. Conversations already in memory are not overwritten.
func (s *Store) LoadAll(ctx context.Context) []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, err := s.readLocked(ctx)
	if err != nil {
		s.log.WithError(err).Warn("saved history unreadable, starting empty")
		return []Conversation{}
	}
	out := make([]Conversation, 0, len(saved))
	for _, sc := range saved {
		c := &Conversation{
			ID:        sc.ID,
			UpdatedAt: sc.UpdatedAt,
			Preview:   sc.Preview,
			Messages:  sc.Messages,
		}
		if c.UpdatedAt.IsZero() && len(c.Messages) > 0 {
			c.UpdatedAt = c.Messages[len(c.Messages)-1].Timestamp
		}
		if _, ok := s.convs[c.ID]; !ok {
			s.convs[c.ID] = c
		}
		out = append(out, c.clone())
	}
	return out
}

// ClearAll erases the saved list. The active conversation stays in memory so
// the open thread keeps working; every other thread is forgotten.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return errors.Wrap(err, "chat: clear history")
	}
	for id := range s.convs {
		if id != s.activeID {
			delete(s.convs, id)
		}
	}
	return nil
}

func (s *Store) readLocked(ctx context.Context) ([]savedChat, error) {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "chat: read history")
	}
	var saved []savedChat
	if err := json.Unmarshal(raw, &saved); err != nil {
		return nil, errors.Wrap(errCorruptHistory, err.Error())
	}
	return saved, nil
}

func (s *Store) writeLocked(ctx context.Context, saved []savedChat) error {
	b, err := json.Marshal(saved)
	if err != nil {
		return errors.Wrap(err, "chat: encode history")
	}
	return errors.Wrap(s.kv.Set(ctx, s.key, b), "chat: write history")
}

func previewOf(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleUser {
			continue
		}
		r := []rune(msgs[i].Text)
		if len(r) > previewRunes {
			r = r[:previewRunes]
		}
		return string(r) + "..."
	}
	return DefaultPreview
}

var arabicDigits = strings.NewReplacer(
	"0", "٠", "1", "١", "2", "٢", "3", "٣", "4", "٤",
	"5", "٥", "6", "٦", "7", "٧", "8", "٨", "9", "٩",
)

// formatDate renders the local calendar date as d/m/yyyy in Arabic-Indic
// digits.
func formatDate(t time.Time) string {
	return arabicDigits.Replace(t.Local().Format("2/1/2006"))
}
