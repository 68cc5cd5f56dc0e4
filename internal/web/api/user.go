package api

import (
	"errors"
	"net/http"

	"greenhouse/auth"
	"greenhouse/internal/web/middleware"
	"greenhouse/internal/web/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func RegisterUserRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, authModule *auth.AuthModule, log *zap.Logger) {
	users := r.Group("/users")
	users.Use(middleware.RequireAuth())
	{
		users.GET("/me", func(c *gin.Context) {
			user, err := authModule.GetUser(c, c.GetString("user_id"))
			if err != nil {
				log.Warn("failed to fetch user", zap.Error(err))
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			c.JSON(http.StatusOK, user)
		})
		users.PUT("/me/password", func(c *gin.Context) {
			var req models.ChangePasswordRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			if err := authModule.ChangePassword(c, c.GetString("user_id"), req.OldPassword, req.NewPassword); err != nil {
				c.JSON(userErrStatus(err), gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		})
		users.PUT("/me/email", func(c *gin.Context) {
			var req models.ChangeEmailRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			if err := authModule.ChangeEmail(c, c.GetString("user_id"), req.Password, req.Email); err != nil {
				c.JSON(userErrStatus(err), gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}

func userErrStatus(err error) int {
	if errors.Is(err, auth.ErrUserNotFound) {
		return http.StatusNotFound
	}
	return http.StatusForbidden
}
