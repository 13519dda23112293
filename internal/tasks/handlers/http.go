package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/tasks/service"
	"github.com/dylanneve1/agent-bridge/internal/tasks/store"
)

// Handlers exposes the task board HTTP surface.
type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "tasks-handlers")),
	}
}

// RegisterRoutes mounts the task endpoints. All of them require an
// authenticated agent.
func RegisterRoutes(router *gin.Engine, svc *service.Service, requireAgent gin.HandlerFunc, log *logger.Logger) {
	h := NewHandlers(svc, log)

	tasks := router.Group("/tasks", requireAgent)
	tasks.POST("", h.httpCreate)
	tasks.GET("", h.httpList)
	tasks.GET("/my/active", h.httpActive)
	tasks.GET("/my/feed", h.httpFeed)
	tasks.GET("/:id", h.httpGet)
	tasks.PATCH("/:id", h.httpPatch)
	tasks.POST("/:id/claim", h.httpClaim)
	tasks.POST("/:id/start", h.httpStart)
	tasks.POST("/:id/complete", h.httpComplete)
	tasks.POST("/:id/block", h.httpBlock)
	tasks.POST("/:id/comments", h.httpAddComment)
	tasks.GET("/:id/comments", h.httpComments)
	tasks.GET("/:id/history", h.httpHistory)
	tasks.POST("/:id/dependencies", h.httpAddDependency)
	tasks.GET("/:id/dependencies", h.httpDependencies)
	tasks.DELETE("/:id/dependencies/:dep", h.httpRemoveDependency)

	router.GET("/board", requireAgent, h.httpBoard)
}

func (h *Handlers) httpCreate(c *gin.Context) {
	var req service.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	task, err := h.service.Create(c.Request.Context(), httpmw.Caller(c), &req)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": task})
}

func (h *Handlers) httpList(c *gin.Context) {
	filter := store.ListFilter{
		Status:     c.Query("status"),
		AssignedTo: c.Query("assigned_to"),
		CreatedBy:  c.Query("created_by"),
		ProjectID:  c.Query("project_id"),
		Priority:   c.Query("priority"),
		Limit:      httpmw.IntQuery(c, "limit", service.DefaultListLimit),
	}
	tasks, err := h.service.List(c.Request.Context(), filter, c.Query("tag"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (h *Handlers) httpGet(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handlers) httpPatch(c *gin.Context) {
	var up service.Update
	if err := c.ShouldBindJSON(&up); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	task, err := h.service.Patch(c.Request.Context(), httpmw.Caller(c), c.Param("id"), &up)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": task})
}

func (h *Handlers) httpClaim(c *gin.Context) {
	task, err := h.service.Claim(c.Request.Context(), httpmw.Caller(c), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": task})
}

func (h *Handlers) httpStart(c *gin.Context) {
	task, err := h.service.Start(c.Request.Context(), httpmw.Caller(c), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": task})
}

type httpCompleteRequest struct {
	Note string `json:"note"`
}

func (h *Handlers) httpComplete(c *gin.Context) {
	var body httpCompleteRequest
	// Empty body is fine; the note is optional.
	_ = c.ShouldBindJSON(&body)
	task, err := h.service.Complete(c.Request.Context(), httpmw.Caller(c), c.Param("id"), body.Note)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": task})
}

type httpBlockRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) httpBlock(c *gin.Context) {
	var body httpBlockRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	task, err := h.service.Block(c.Request.Context(), httpmw.Caller(c), c.Param("id"), body.Reason)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": task})
}

type httpCommentRequest struct {
	Content string `json:"content"`
}

func (h *Handlers) httpAddComment(c *gin.Context) {
	var body httpCommentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	comment, err := h.service.Comment(c.Request.Context(), httpmw.Caller(c), c.Param("id"), body.Content)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "comment": comment})
}

func (h *Handlers) httpComments(c *gin.Context) {
	comments, err := h.service.Comments(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments, "count": len(comments)})
}

func (h *Handlers) httpHistory(c *gin.Context) {
	history, err := h.service.History(c.Request.Context(), c.Param("id"),
		httpmw.IntQuery(c, "limit", service.DefaultHistoryLimit))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

type httpDependencyRequest struct {
	DependsOn string `json:"depends_on"`
}

func (h *Handlers) httpAddDependency(c *gin.Context) {
	var body httpDependencyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.service.AddDependency(c.Request.Context(), c.Param("id"), body.DependsOn); err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) httpDependencies(c *gin.Context) {
	info, err := h.service.Dependencies(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) httpRemoveDependency(c *gin.Context) {
	if err := h.service.RemoveDependency(c.Request.Context(), c.Param("id"), c.Param("dep")); err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) httpBoard(c *gin.Context) {
	board, err := h.service.Board(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *Handlers) httpActive(c *gin.Context) {
	tasks, err := h.service.Active(c.Request.Context(), httpmw.Caller(c))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (h *Handlers) httpFeed(c *gin.Context) {
	feed, err := h.service.Feed(c.Request.Context(), httpmw.Caller(c),
		httpmw.IntQuery(c, "limit", service.DefaultFeedLimit))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feed": feed, "count": len(feed)})
}
