package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/projects/service"
)

// Handlers exposes the projects HTTP surface.
type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "projects-handlers")),
	}
}

// RegisterRoutes mounts the project endpoints. All of them require an
// authenticated agent.
func RegisterRoutes(router *gin.Engine, svc *service.Service, requireAgent gin.HandlerFunc, log *logger.Logger) {
	h := NewHandlers(svc, log)

	projects := router.Group("/projects", requireAgent)
	projects.POST("", h.httpCreate)
	projects.GET("", h.httpList)
	projects.GET("/:id", h.httpGet)
	projects.POST("/:id/members", h.httpAddMember)
	projects.POST("/:id/milestones", h.httpCreateMilestone)
	projects.GET("/:id/milestones", h.httpMilestones)
}

type httpCreateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (h *Handlers) httpCreate(c *gin.Context) {
	var body httpCreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	project, err := h.service.Create(c.Request.Context(), httpmw.Caller(c),
		body.Name, body.Description, body.Tags)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": project})
}

func (h *Handlers) httpList(c *gin.Context) {
	projects, err := h.service.List(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

func (h *Handlers) httpGet(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type httpMemberRequest struct {
	Agent   string `json:"agent"`
	AgentID string `json:"agent_id"` // alias for agent
}

func (h *Handlers) httpAddMember(c *gin.Context) {
	var body httpMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	agent := body.Agent
	if agent == "" {
		agent = body.AgentID
	}
	if err := h.service.AddMember(c.Request.Context(), c.Param("id"), agent); err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type httpMilestoneRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DueBy       string `json:"due_by"`
}

func (h *Handlers) httpCreateMilestone(c *gin.Context) {
	var body httpMilestoneRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	milestone, err := h.service.CreateMilestone(c.Request.Context(), c.Param("id"),
		body.Name, body.Description, body.DueBy)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "milestone": milestone})
}

func (h *Handlers) httpMilestones(c *gin.Context) {
	milestones, err := h.service.Milestones(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": milestones, "count": len(milestones)})
}
