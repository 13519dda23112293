package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/revisions/service"
)

// Handlers exposes the revision system over HTTP.
type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "revisions-handlers")),
	}
}

// RegisterRoutes mounts the /git surface. All routes require an agent.
func RegisterRoutes(router *gin.Engine, svc *service.Service, requireAgent gin.HandlerFunc, log *logger.Logger) {
	h := NewHandlers(svc, log)

	repos := router.Group("/git/repos", requireAgent)
	{
		repos.POST("", h.httpCreateRepo)
		repos.GET("", h.httpListRepos)
		repos.GET("/:name", h.httpGetRepo)
		repos.POST("/:name/commit", h.httpCommit)
		repos.GET("/:name/log", h.httpLog)
		repos.GET("/:name/tree", h.httpTree)
		repos.GET("/:name/files/*path", h.httpReadFile)
		repos.GET("/:name/diff/:commit", h.httpDiff)
	}
}

func (h *Handlers) httpCreateRepo(c *gin.Context) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		ProjectID   string `json:"project_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	repo, err := h.service.CreateRepo(c.Request.Context(), httpmw.Caller(c), body.Name, body.Description, body.ProjectID)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "repo": repo})
}

func (h *Handlers) httpListRepos(c *gin.Context) {
	repos, err := h.service.List(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repos": repos, "count": len(repos)})
}

func (h *Handlers) httpGetRepo(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handlers) httpCommit(c *gin.Context) {
	var body struct {
		Branch  string                `json:"branch"`
		Message string                `json:"message"`
		Files   []*service.FileChange `json:"files"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	commit, err := h.service.Commit(c.Request.Context(), httpmw.Caller(c), c.Param("name"), body.Branch, body.Message, body.Files)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "commit": commit})
}

func (h *Handlers) httpLog(c *gin.Context) {
	limit := httpmw.IntQuery(c, "limit", service.DefaultLogLimit)
	entries, err := h.service.Log(c.Request.Context(), c.Param("name"), c.Query("branch"), limit)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": entries, "count": len(entries)})
}

func (h *Handlers) httpTree(c *gin.Context) {
	tree, err := h.service.Tree(c.Request.Context(), c.Param("name"), c.Query("branch"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tree": tree, "count": len(tree)})
}

func (h *Handlers) httpReadFile(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	file, err := h.service.ReadFile(c.Request.Context(), c.Param("name"), c.Query("branch"), path)
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *Handlers) httpDiff(c *gin.Context) {
	text, err := h.service.Diff(c.Request.Context(), c.Param("name"), c.Param("commit"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.String(http.StatusOK, "%s", text)
}
