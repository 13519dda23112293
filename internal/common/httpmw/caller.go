package httpmw

import "github.com/gin-gonic/gin"

const ctxAgentName = "agent_name"

// SetCaller records the authenticated agent name on the request context.
func SetCaller(c *gin.Context, name string) {
	c.Set(ctxAgentName, name)
}

// Caller returns the authenticated agent name, or "" on anonymous requests.
func Caller(c *gin.Context) string {
	return c.GetString(ctxAgentName)
}
