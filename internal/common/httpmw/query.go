package httpmw

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// IntQuery parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func IntQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}

// FloatQuery parses a float query parameter, returning 0 when absent or
// malformed.
func FloatQuery(c *gin.Context, name string) float64 {
	raw := c.Query(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}
