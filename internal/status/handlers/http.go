package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/status/service"
)

// Handlers exposes the public health and stats surface.
type Handlers struct {
	service     *service.Service
	externalURL string
	logger      *logger.Logger
}

func NewHandlers(svc *service.Service, externalURL string, log *logger.Logger) *Handlers {
	return &Handlers{
		service:     svc,
		externalURL: externalURL,
		logger:      log.WithFields(zap.String("component", "status-handlers")),
	}
}

// RegisterRoutes mounts the banner, health and stats endpoints. All three are
// public.
func RegisterRoutes(router *gin.Engine, svc *service.Service, externalURL string, log *logger.Logger) {
	h := NewHandlers(svc, externalURL, log)

	router.GET("/", h.httpRoot)
	router.GET("/status", h.httpStatus)
	router.GET("/stats", h.httpStats)
}

func (h *Handlers) httpRoot(c *gin.Context) {
	banner := gin.H{
		"status":      "ok",
		"service":     "agent-bridge",
		"version":     h.service.Version(),
		"description": "Multi-agent collaboration server: messaging, file sharing, tasks, projects and revision tracking.",
		"endpoints": []string{
			"/status", "/agents", "/conversations", "/inbox", "/send",
			"/files", "/tasks", "/board", "/projects", "/git/repos", "/stats",
		},
	}
	if h.externalURL != "" {
		banner["external_url"] = h.externalURL
	}
	c.JSON(http.StatusOK, banner)
}

func (h *Handlers) httpStatus(c *gin.Context) {
	overview, err := h.service.Overview(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (h *Handlers) httpStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
