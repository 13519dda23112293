package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/messaging/models"
	"github.com/dylanneve1/agent-bridge/internal/messaging/service"
)

// Handlers exposes the messaging HTTP surface.
type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "messaging-handlers")),
	}
}

// RegisterRoutes mounts the messaging endpoints. Everything except the
// /browse surface requires an authenticated agent.
func RegisterRoutes(router *gin.Engine, svc *service.Service, requireAgent gin.HandlerFunc, log *logger.Logger) {
	h := NewHandlers(svc, log)

	router.POST("/send", requireAgent, h.httpSend)
	router.GET("/inbox", requireAgent, h.httpInbox)
	router.POST("/inbox/:id/read", requireAgent, h.httpMarkRead)
	router.GET("/history", requireAgent, h.httpHistory)

	conv := router.Group("/conversations", requireAgent)
	conv.POST("", h.httpCreateConversation)
	conv.GET("", h.httpListConversations)
	conv.GET("/:id", h.httpGetConversation)
	conv.POST("/:id/send", h.httpSendToConversation)
	conv.GET("/:id/messages", h.httpConversationMessages)
	conv.POST("/:id/invite", h.httpInvite)
	conv.POST("/:id/leave", h.httpLeave)

	// Read-only browser, no auth.
	router.GET("/browse/conversations", h.httpBrowse)
	router.GET("/browse/conversations/:id", h.httpBrowseConversation)
}

type httpSendRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
	Message string `json:"message"` // legacy alias for content
}

func (h *Handlers) httpSend(c *gin.Context) {
	var body httpSendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	content := body.Content
	if content == "" {
		content = body.Message
	}
	msg, err := h.service.SendDM(c.Request.Context(), httpmw.Caller(c), body.To, content)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"from":            msg.FromAgent,
		"to":              msg.ToAgent,
		"timestamp":       msg.Timestamp,
	})
}

func (h *Handlers) httpInbox(c *gin.Context) {
	agent := httpmw.Caller(c)
	messages, err := h.service.Inbox(c.Request.Context(), agent,
		httpmw.FloatQuery(c, "since"), httpmw.IntQuery(c, "limit", service.DefaultInboxLimit))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent, "count": len(messages), "messages": messages})
}

func (h *Handlers) httpMarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) httpHistory(c *gin.Context) {
	messages, err := h.service.History(c.Request.Context(), httpmw.Caller(c),
		c.Query("with_agent"), httpmw.IntQuery(c, "limit", service.DefaultHistoryLimit))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type httpCreateConversationRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (h *Handlers) httpCreateConversation(c *gin.Context) {
	var body httpCreateConversationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	conv, err := h.service.CreateGroup(c.Request.Context(), httpmw.Caller(c), body.Name, body.Members)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": conv.ID, "name": conv.Name})
}

func (h *Handlers) httpListConversations(c *gin.Context) {
	summaries, err := h.service.ListConversations(c.Request.Context(), httpmw.Caller(c))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	if summaries == nil {
		summaries = []*models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *Handlers) httpGetConversation(c *gin.Context) {
	conv, members, err := h.service.GetConversation(c.Request.Context(), httpmw.Caller(c), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         conv.ID,
		"name":       conv.Name,
		"type":       conv.Type,
		"created_by": conv.CreatedBy,
		"created_at": conv.CreatedAt,
		"members":    members,
	})
}

type httpConversationSendRequest struct {
	Content string `json:"content"`
}

func (h *Handlers) httpSendToConversation(c *gin.Context) {
	var body httpConversationSendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.service.SendToConversation(c.Request.Context(), httpmw.Caller(c), c.Param("id"), body.Content)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": msg.ID})
}

func (h *Handlers) httpConversationMessages(c *gin.Context) {
	messages, err := h.service.Messages(c.Request.Context(), httpmw.Caller(c), c.Param("id"),
		httpmw.IntQuery(c, "limit", service.DefaultMessagesLimit), httpmw.FloatQuery(c, "before"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

type httpInviteRequest struct {
	AgentID string `json:"agent_id"`
	Agent   string `json:"agent"` // alias for agent_id
}

func (h *Handlers) httpInvite(c *gin.Context) {
	var body httpInviteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	invitee := body.AgentID
	if invitee == "" {
		invitee = body.Agent
	}
	if err := h.service.Invite(c.Request.Context(), httpmw.Caller(c), c.Param("id"), invitee); err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) httpLeave(c *gin.Context) {
	if err := h.service.Leave(c.Request.Context(), httpmw.Caller(c), c.Param("id")); err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) httpBrowse(c *gin.Context) {
	convs, err := h.service.Browse(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	if convs == nil {
		convs = []*models.BrowseConversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handlers) httpBrowseConversation(c *gin.Context) {
	transcript, err := h.service.BrowseConversation(c.Request.Context(), c.Param("id"),
		httpmw.IntQuery(c, "limit", service.DefaultTranscriptLimit))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, transcript)
}
