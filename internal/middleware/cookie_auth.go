package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CookieAuth rejects requests that do not carry the account cookie the
// server was started with. This mirrors the production drive: a missing or
// stale cookie yields 401 with a "require login" envelope. An empty expected
// cookie disables the check.
func CookieAuth(cookie string) gin.HandlerFunc {
	expected := strings.TrimSpace(cookie)
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}
		got := strings.TrimSpace(c.GetHeader("Cookie"))
		if got == "" || !strings.Contains(got, expected) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    20001,
				"status":  http.StatusUnauthorized,
				"message": "require login",
			})
			return
		}
		c.Next()
	}
}
