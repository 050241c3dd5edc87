package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Origin allows the configured browser origin (plus same-origin requests)
// on the websocket route. Empty allowed list means accept everything,
// which matches local development.
func Origin(allowed ...string) gin.HandlerFunc {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		allowSet[o] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(allowSet) == 0 {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if _, ok := allowSet[origin]; !ok {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
