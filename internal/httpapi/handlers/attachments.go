package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/suPer8Hu/medchat/internal/attachment"
	"github.com/suPer8Hu/medchat/internal/common"
)

// UploadAttachment encodes a multipart "file" into the payload a turn
// carries. The declared content type wins; it is sniffed only when absent.
func (h *Handler) UploadAttachment(c *gin.Context) {
	if _, ok := h.workspace(c); !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "file required")
		return
	}
	if h.Cfg.MaxAttachmentBytes > 0 && fh.Size > h.Cfg.MaxAttachmentBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "file too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "file unreadable")
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "file unreadable")
		return
	}

	p, err := attachment.Encode(fh.Header.Get("Content-Type"), raw)
	if err != nil {
		writeAttachmentError(c, err)
		return
	}
	common.OK(c, gin.H{
		"mimeType": p.MimeType,
		"data":     p.Data,
		"dataUrl":  p.DataURL(),
	})
}

func writeAttachmentError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, attachment.ErrUnsupportedType):
		common.Fail(c, http.StatusUnsupportedMediaType, 41501, "only image files are supported")
	case errors.Is(err, attachment.ErrEmpty):
		common.Fail(c, http.StatusBadRequest, 40004, "empty file")
	case errors.Is(err, attachment.ErrMalformed):
		common.Fail(c, http.StatusBadRequest, 40005, "malformed attachment")
	default:
		return false
	}
	return true
}
