package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/files/service"
)

// Handlers exposes the file sharing HTTP surface.
type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "files-handlers")),
	}
}

// RegisterRoutes mounts the file endpoints. Metadata and downloads are public
// so pasted links work without a key; everything else requires an agent.
func RegisterRoutes(router *gin.Engine, svc *service.Service, requireAgent gin.HandlerFunc, log *logger.Logger) {
	h := NewHandlers(svc, log)

	router.POST("/files/upload", requireAgent, h.httpUpload)
	router.GET("/files", requireAgent, h.httpList)
	router.GET("/files/stats", requireAgent, h.httpStats)
	router.GET("/files/:id", h.httpGet)
	router.GET("/files/:id/:name", h.httpDownload)
	router.DELETE("/files/:id", requireAgent, h.httpDelete)
	router.POST("/send-file", requireAgent, h.httpSendFile)
}

// readUpload pulls the multipart "file" part fully into memory. The 50MB cap
// is enforced by the service after the read, same as every other validation.
func (h *Handlers) readUpload(c *gin.Context) (name, mimeType string, data []byte, ok bool) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return "", "", nil, false
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return "", "", nil, false
	}
	defer f.Close()
	data, err = io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return "", "", nil, false
	}
	return header.Filename, header.Header.Get("Content-Type"), data, true
}

func (h *Handlers) httpUpload(c *gin.Context) {
	name, mimeType, data, ok := h.readUpload(c)
	if !ok {
		return
	}
	file, err := h.service.Store(c.Request.Context(), &service.Upload{
		Uploader:       httpmw.Caller(c),
		OriginalName:   name,
		MimeType:       mimeType,
		Description:    c.PostForm("description"),
		ConversationID: c.PostForm("conversation_id"),
		Data:           data,
	})
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"file_id":      file.ID,
		"filename":     file.OriginalName,
		"size":         file.Size,
		"mime_type":    file.MimeType,
		"sha256":       file.SHA256,
		"download_url": file.DownloadURL(),
		"uploaded_by":  file.UploadedBy,
	})
}

func (h *Handlers) httpList(c *gin.Context) {
	files, err := h.service.List(c.Request.Context(), httpmw.Caller(c),
		c.Query("conversation_id"), c.Query("uploaded_by"),
		httpmw.IntQuery(c, "limit", service.DefaultListLimit))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	entries := make([]gin.H, 0, len(files))
	for _, f := range files {
		entries = append(entries, gin.H{
			"id":              f.ID,
			"original_name":   f.OriginalName,
			"mime_type":       f.MimeType,
			"size":            f.Size,
			"uploaded_by":     f.UploadedBy,
			"uploaded_at":     f.UploadedAt,
			"conversation_id": f.ConversationID,
			"description":     f.Description,
			"download_url":    f.DownloadURL(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"files": entries, "count": len(entries)})
}

func (h *Handlers) httpStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) httpGet(c *gin.Context) {
	file, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// httpDownload streams the blob. The name in the URL is cosmetic; the stored
// original name drives the download filename.
func (h *Handlers) httpDownload(c *gin.Context) {
	file, path, err := h.service.OpenBlob(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.OriginalName+`"`)
	c.Header("Content-Type", file.MimeType)
	c.File(path)
}

func (h *Handlers) httpDelete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), httpmw.Caller(c), id); err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "deleted": id})
}

func (h *Handlers) httpSendFile(c *gin.Context) {
	name, mimeType, data, ok := h.readUpload(c)
	if !ok {
		return
	}
	from := httpmw.Caller(c)
	file, messageID, err := h.service.SendWithFile(c.Request.Context(), from,
		c.PostForm("to"), c.PostForm("content"), &service.Upload{
			Uploader:     from,
			OriginalName: name,
			MimeType:     mimeType,
			Data:         data,
		})
	if err != nil {
		httpmw.HandleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"message_id":      messageID,
		"file_id":         file.ID,
		"download_url":    file.DownloadURL(),
		"conversation_id": file.ConversationID,
	})
}
