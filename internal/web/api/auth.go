package api

import (
	"errors"
	"net/http"

	"greenhouse/auth"
	"greenhouse/internal/web/middleware"
	"greenhouse/internal/web/models"

	"github.com/gin-gonic/gin"
)

func RegisterAuthRoutes(router *gin.Engine, authModule *auth.AuthModule, middlewareManager *middleware.MiddlewareManager) {
	r := router.Group("/auth")
	{
		r.POST("/login", func(c *gin.Context) {
			var loginRequest models.LoginRequest
			if err := c.ShouldBind(&loginRequest); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, session, err := authModule.Login(c, loginRequest.Username, loginRequest.Password)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(middleware.SessionCookie, session, 24*3600, "/", "", false, true)
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
		r.POST("/register", func(c *gin.Context) {
			var registerRequest models.RegisterRequest
			if err := c.ShouldBindJSON(&registerRequest); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := authModule.RegisterWithJWT(c, registerRequest.Username, registerRequest.Password, registerRequest.Email)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, auth.ErrUsernameTaken) {
					status = http.StatusConflict
				}
				c.JSON(status, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"token": token})
		})
		r.POST("/logout", middlewareManager.RequireAuth(), func(c *gin.Context) {
			if session, err := c.Cookie(middleware.SessionCookie); err == nil {
				_ = authModule.LogoutSession(c, session)
			}
			c.SetCookie(middleware.SessionCookie, "", -1, "/", "", false, true)
			c.Status(http.StatusNoContent)
		})
	}
}
