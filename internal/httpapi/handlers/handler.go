package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/medchat/internal/ai"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/common"
	"github.com/suPer8Hu/medchat/internal/config"
	"github.com/suPer8Hu/medchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/medchat/internal/logging"
	"github.com/suPer8Hu/medchat/internal/store/kv"
)

type Deps struct {
	Cfg      config.Config
	Backend  kv.Store
	Provider ai.Provider
	Observer chat.TurnObserver
	Log      *log.Entry
}

type Handler struct {
	Cfg        config.Config
	log        *log.Entry
	workspaces *Workspaces
}

func NewHandler(d Deps) *Handler {
	l := logging.Or(d.Log)
	return &Handler{
		Cfg: d.Cfg,
		log: l,
		workspaces: NewWorkspaces(d.Backend, d.Provider, d.Cfg.SessionTTL, chat.WorkspaceOptions{
			TurnLimit: d.Cfg.AnonTurnLimit,
			Observer:  d.Observer,
			Logger:    l,
		}),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// workspace resolves the caller's workspace, writing 401 when the request
// carries no profile id.
func (h *Handler) workspace(c *gin.Context) (*chat.Workspace, bool) {
	sid, ok := middleware.SessionID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	return h.workspaces.Get(c.Request.Context(), sid), true
}

const (
	maxWorkspaces       = 4096
	defaultWorkspaceTTL = 24 * time.Hour
)

// Workspaces holds one chat.Workspace per browser profile, created on first
// use from durable storage. A workspace idle for longer than the session TTL
// is dropped and rebuilt from storage on its next request.
type Workspaces struct {
	mu       sync.Mutex
	items    *expirable.LRU[string, *chat.Workspace]
	backend  kv.Store
	provider ai.Provider
	opts     chat.WorkspaceOptions
}

func NewWorkspaces(backend kv.Store, provider ai.Provider, idleTTL time.Duration, opts chat.WorkspaceOptions) *Workspaces {
	if idleTTL <= 0 {
		idleTTL = defaultWorkspaceTTL
	}
	return &Workspaces{
		items:    expirable.NewLRU[string, *chat.Workspace](maxWorkspaces, nil, idleTTL),
		backend:  backend,
		provider: provider,
		opts:     opts,
	}
}

func (w *Workspaces) Get(ctx context.Context, sid string) *chat.Workspace {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws, ok := w.items.Get(sid)
	if !ok {
		ws = chat.NewWorkspace(ctx, sid, w.backend, w.provider, w.opts)
	}
	// Re-adding restarts the idle clock.
	w.items.Add(sid, ws)
	return ws
}

func (w *Workspaces) Len() int { return w.items.Len() }
