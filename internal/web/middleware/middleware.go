package middleware

import (
	"time"

	"greenhouse/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionCookie holds the browser session token
const SessionCookie = "session"

type MiddlewareManager struct {
	auth *auth.AuthModule
	log  *zap.Logger
}

func NewMiddlewareManager(auth *auth.AuthModule, log *zap.Logger) *MiddlewareManager {
	return &MiddlewareManager{
		auth: auth,
		log:  log,
	}
}

// Logger logs every request once it completes
func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
