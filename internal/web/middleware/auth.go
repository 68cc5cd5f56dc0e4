package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireAuth accepts a JWT in the Authorization header or a session cookie
// and stores the caller in "user_id".
func (m *MiddlewareManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := m.authenticate(c)
		if err != nil {
			m.log.Debug("authentication error", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Set("user_id", userID)

		c.Next()
	}
}

func (m *MiddlewareManager) authenticate(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		return m.auth.ValidateTokenJWT(c, strings.TrimPrefix(header, "Bearer "))
	}
	session, err := c.Cookie(SessionCookie)
	if err != nil {
		return "", err
	}
	return m.auth.ValidateTokenSession(c, session)
}
