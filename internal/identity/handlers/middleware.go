package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dylanneve1/agent-bridge/internal/common/httpmw"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/identity/models"
)

// Request headers carrying credentials.
const (
	HeaderAPIKey      = "x-api-key"
	HeaderAdminSecret = "x-admin-secret"
)

// Authenticator resolves an API key to an agent.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Agent, error)
}

// RequireAgent rejects requests whose x-api-key header does not resolve to a
// registered agent. On success the agent name is attached to the context.
func RequireAgent(auth Authenticator, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, err := auth.Authenticate(c.Request.Context(), c.GetHeader(HeaderAPIKey))
		if err != nil {
			httpmw.HandleError(c, log, err)
			c.Abort()
			return
		}
		httpmw.SetCaller(c, agent.Name)
		c.Next()
	}
}

// RequireAdmin rejects requests whose x-admin-secret header does not match
// the configured secret.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader(HeaderAdminSecret) != secret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Bad secret"})
			return
		}
		c.Next()
	}
}
