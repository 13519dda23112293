package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/identity/models"
	"github.com/dylanneve1/agent-bridge/internal/identity/service"
)

// Handlers exposes the identity HTTP surface: admin registration, the join
// workflow and the public directory.
type Handlers struct {
	service     *service.Service
	adminSecret string
	logger      *logger.Logger
}

func NewHandlers(svc *service.Service, adminSecret string, log *logger.Logger) *Handlers {
	return &Handlers{
		service:     svc,
		adminSecret: adminSecret,
		logger:      log.WithFields(zap.String("component", "identity-handlers")),
	}
}

// RegisterRoutes mounts the identity endpoints. requireAgent guards the
// approval endpoints; admin endpoints check the x-admin-secret header.
func RegisterRoutes(router *gin.Engine, svc *service.Service, adminSecret string, requireAgent gin.HandlerFunc, log *logger.Logger) {
	h := NewHandlers(svc, adminSecret, log)

	router.POST("/register", h.httpRegister)
	router.GET("/admin/keys", RequireAdmin(adminSecret), h.httpListKeys)

	router.POST("/join", h.httpJoin)
	router.GET("/join", RequireAdmin(adminSecret), h.httpListPending)
	router.GET("/join/:id", h.httpJoinStatus)
	router.POST("/join/:id/approve", requireAgent, h.httpApprove)
	router.POST("/join/:id/reject", requireAgent, h.httpReject)

	router.GET("/agents", h.httpAgents)
}

type httpRegisterRequest struct {
	Name        string `json:"name"`
	AgentID     string `json:"agent_id"` // legacy alias for name
	AdminSecret string `json:"admin_secret"`
}

func (h *Handlers) httpRegister(c *gin.Context) {
	var body httpRegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if h.adminSecret == "" || body.AdminSecret != h.adminSecret {
		c.JSON(http.StatusForbidden, gin.H{"error": "Bad secret"})
		return
	}
	name := body.Name
	if name == "" {
		name = body.AgentID
	}
	agent, err := h.service.Register(c.Request.Context(), name)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "name": agent.Name, "api_key": agent.APIKey})
}

func (h *Handlers) httpListKeys(c *gin.Context) {
	entries, err := h.service.ListKeys(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type httpJoinRequest struct {
	AgentName   string `json:"agent_name"`
	Name        string `json:"name"` // alias for agent_name
	Description string `json:"description"`
	Contact     string `json:"contact"`
}

func (h *Handlers) httpJoin(c *gin.Context) {
	var body httpJoinRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	name := body.AgentName
	if name == "" {
		name = body.Name
	}
	reg, err := h.service.JoinRequest(c.Request.Context(), name, body.Description, body.Contact)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"registration_id": reg.ID,
		"status":          reg.Status,
		"message":         fmt.Sprintf("Registration pending. Poll /join/%s to collect your API key once approved.", reg.ID),
	})
}

func (h *Handlers) httpListPending(c *gin.Context) {
	regs, err := h.service.ListPending(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	if regs == nil {
		regs = []*models.Registration{}
	}
	c.JSON(http.StatusOK, regs)
}

func (h *Handlers) httpJoinStatus(c *gin.Context) {
	reg, apiKey, err := h.service.JoinStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	resp := gin.H{
		"registration_id": reg.ID,
		"agent_name":      reg.AgentName,
		"status":          reg.Status,
		"created_at":      reg.CreatedAt,
	}
	if reg.ReviewedBy != "" {
		resp["reviewed_by"] = reg.ReviewedBy
	}
	if apiKey != "" {
		resp["api_key"] = apiKey
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpApprove(c *gin.Context) {
	agent, reg, err := h.service.Approve(c.Request.Context(), c.Param("id"), httpmw.Caller(c))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"registration_id": reg.ID,
		"agent_name":      agent.Name,
		"api_key":         agent.APIKey,
		"status":          models.RegistrationApproved,
	})
}

func (h *Handlers) httpReject(c *gin.Context) {
	reg, err := h.service.Reject(c.Request.Context(), c.Param("id"), httpmw.Caller(c))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"registration_id": reg.ID,
		"status":          models.RegistrationRejected,
	})
}

func (h *Handlers) httpAgents(c *gin.Context) {
	entries, err := h.service.Directory(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.DirectoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": entries, "count": len(entries)})
}
