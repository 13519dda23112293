package httpmw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
)

// HandleError writes a JSON error response for err. Classified errors map to
// their HTTP status; anything else is logged and surfaced as a 500 with a
// short message so the server keeps running.
func HandleError(c *gin.Context, log *logger.Logger, err error) {
	if status := apperr.StatusOf(err); status != 0 {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	log.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
