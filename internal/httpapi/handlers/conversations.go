package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/suPer8Hu/medchat/internal/ai"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/common"
)

func (h *Handler) CreateConversation(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	conv := ws.NewConversation()
	st, err := ws.State(conv.ID)
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	common.OK(c, st)
}

func (h *Handler) ListConversations(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	common.OK(c, gin.H{"conversations": ws.History(c.Request.Context())})
}

// ClearConversations requires ?confirm=true.
func (h *Handler) ClearConversations(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if c.Query("confirm") != "true" {
		common.Fail(c, http.StatusBadRequest, 40002, "confirm=true required")
		return
	}
	if err := ws.ClearHistory(c.Request.Context()); err != nil {
		h.log.WithError(err).WithField("session_id", ws.ID).Error("clear history failed")
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to clear history")
		return
	}
	common.OK(c, gin.H{"cleared": true})
}

func (h *Handler) GetConversation(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	st, err := ws.State(c.Param("id"))
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	common.OK(c, st)
}

func (h *Handler) OpenConversation(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	st, err := ws.Open(c.Param("id"))
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	common.OK(c, st)
}

type turnReq struct {
	Text       string           `json:"text"`
	Attachment *chat.Attachment `json:"attachment"`
	Location   *ai.Location     `json:"location"`
}

// SubmitTurn blocks until the model client answers. A model-client failure
// still returns 200; the state's error field carries the message.
func (h *Handler) SubmitTurn(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req turnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	in := chat.TurnInput{Text: req.Text, Location: req.Location}
	if req.Attachment != nil {
		p, err := req.Attachment.Payload()
		if err != nil {
			if !writeAttachmentError(c, err) {
				h.writeChatError(c, err)
			}
			return
		}
		in.Attachment = p
	}

	st, err := ws.Submit(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		if errors.Is(err, chat.ErrQuotaExceeded) {
			common.FailWith(c, http.StatusTooManyRequests, 42901, "sign in to continue", gateView(ws.ID, ws.Gate()))
			return
		}
		h.writeChatError(c, err)
		return
	}
	common.OK(c, st)
}

func (h *Handler) writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
	case errors.Is(err, chat.ErrTurnInFlight):
		common.Fail(c, http.StatusConflict, 40901, "a reply is still loading")
	case errors.Is(err, chat.ErrEmptyTurn):
		common.Fail(c, http.StatusBadRequest, 40003, "text or attachment required")
	case writeAttachmentError(c, err):
	default:
		h.log.WithError(err).Error("chat request failed")
		common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
	}
}
