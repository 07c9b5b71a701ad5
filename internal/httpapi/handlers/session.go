package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/medchat/internal/auth"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/common"
)

// CreateSession issues a token for a new anonymous browser profile.
func (h *Handler) CreateSession(c *gin.Context) {
	sid, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to allocate session")
		return
	}
	token, err := auth.SignJWT(sid, h.Cfg.JWTSecret, h.Cfg.SessionTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to sign token")
		return
	}
	ws := h.workspaces.Get(c.Request.Context(), sid)
	active, err := ws.Active()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to open conversation")
		return
	}
	common.OK(c, gin.H{
		"session_id":   sid,
		"token":        token,
		"expires_in":   int64(h.Cfg.SessionTTL.Seconds()),
		"conversation": active,
	})
}

func gateView(sid string, g *chat.Gate) gin.H {
	out := gin.H{
		"session_id": sid,
		"identity":   nil,
		"turn_count": g.TurnCount(),
		"remaining":  g.Remaining(),
	}
	if ident, ok := g.Identity(); ok {
		out["identity"] = ident
	}
	return out
}

func (h *Handler) Me(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	common.OK(c, gateView(ws.ID, ws.Gate()))
}

type loginReq struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *Handler) Login(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ident, err := ws.SignIn(c.Request.Context(), chat.Identity{DisplayName: req.Name, ContactHandle: req.Phone})
	if err != nil {
		if errors.Is(err, chat.ErrInvalidIdentity) {
			common.Fail(c, http.StatusBadRequest, 40001, "name must be longer than 2 characters and phone longer than 8")
			return
		}
		h.log.WithError(err).WithField("session_id", ws.ID).Error("sign in failed")
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to save profile")
		return
	}
	h.log.WithFields(log.Fields{
		"session_id": ws.ID,
		"contact":    auth.ContactDigest(ident.ContactHandle),
	}).Info("signed in")
	common.OK(c, gateView(ws.ID, ws.Gate()))
}

func (h *Handler) Logout(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	fresh, err := ws.SignOut(c.Request.Context())
	if err != nil {
		h.log.WithError(err).WithField("session_id", ws.ID).Warn("clear profile failed")
	}
	st, err := ws.State(fresh.ID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to open conversation")
		return
	}
	out := gateView(ws.ID, ws.Gate())
	out["conversation"] = st
	common.OK(c, out)
}
