package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/medchat/internal/common"
	"github.com/suPer8Hu/medchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/medchat/internal/httpapi/middleware"
)

func NewRouter(d handlers.Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Log))
	if d.Cfg.MaxAttachmentBytes > 0 {
		r.MaxMultipartMemory = d.Cfg.MaxAttachmentBytes
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(d)

	r.GET("/ping", h.Ping)
	r.POST("/session", h.CreateSession)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(d.Cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/login", h.Login)
	authGroup.POST("/logout", h.Logout)
	authGroup.POST("/attachments", h.UploadAttachment)

	authGroup.POST("/conversations", h.CreateConversation)
	authGroup.GET("/conversations", h.ListConversations)
	authGroup.DELETE("/conversations", h.ClearConversations)
	authGroup.GET("/conversations/:id", h.GetConversation)
	authGroup.POST("/conversations/:id/open", h.OpenConversation)
	authGroup.POST("/conversations/:id/turns", h.SubmitTurn)
	return r
}
