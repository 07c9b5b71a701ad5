package chat

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultTurnLimit is how many turns an anonymous profile may send.
const DefaultTurnLimit = 4

// Gate counts anonymous turns and lets identified users through.
type Gate struct {
	mu        sync.Mutex
	limit     int
	identity  *Identity
	turnCount int
}

func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultTurnLimit
	}
	return &Gate{limit: limit}
}

func (g *Gate) allowedLocked() bool {
	return g.identity != nil || g.turnCount < g.limit
}

// Check reports whether a turn would be allowed, without consuming it.
func (g *Gate) Check() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowedLocked()
}

// CheckAndMaybeConsume allows or denies a turn. Allowed anonymous turns
// increment the count; denied ones leave it untouched.
func (g *Gate) CheckAndMaybeConsume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.allowedLocked() {
		return false
	}
	if g.identity == nil {
		g.turnCount++
	}
	return true
}

// SignIn validates and sets the identity. The turn count is kept but no
// longer enforced.
func (g *Gate) SignIn(id Identity) (Identity, error) {
	id.DisplayName = strings.TrimSpace(id.DisplayName)
	id.ContactHandle = strings.TrimSpace(id.ContactHandle)
	if utf8.RuneCountInString(id.DisplayName) <= 2 || utf8.RuneCountInString(id.ContactHandle) <= 8 {
		return Identity{}, ErrInvalidIdentity
	}
	g.restore(id)
	return id, nil
}

func (g *Gate) restore(id Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.identity = &id
}

// SignOut clears the identity and resets the count.
func (g *Gate) SignOut() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.identity = nil
	g.turnCount = 0
}

func (g *Gate) Identity() (Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.identity == nil {
		return Identity{}, false
	}
	return *g.identity, true
}

func (g *Gate) TurnCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turnCount
}

// Remaining is the number of free turns left, or -1 when identified.
func (g *Gate) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.identity != nil {
		return -1
	}
	if n := g.limit - g.turnCount; n > 0 {
		return n
	}
	return 0
}
