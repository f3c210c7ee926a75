package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/crmbridge/internal/middleware"
	"github.com/huangang/crmbridge/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.RequestID(), logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	webhookLimiter := middleware.NewRateLimiter("webhook", 10, 20)
	loginLimiter := middleware.NewRateLimiter("login", 5, 10)

	r.GET("/health", svc.healthHandler.CheckHealth)

	// CRM workflow webhooks (public with signature verification)
	r.POST("/webhook/contactownerchange", webhookLimiter.Middleware(), svc.webhookHandler.ContactOwnerChange)

	api := r.Group("/api")
	{
		users := api.Group("/users")
		{
			users.POST("/signup", loginLimiter.Middleware(), svc.authHandler.Signup)
			users.POST("/login", loginLimiter.Middleware(), svc.authHandler.Login)
			users.POST("/refresh", middleware.OptionalAuth(svc.signer), svc.authHandler.Refresh)
		}

		api.POST("/webhook/contactownerchange", webhookLimiter.Middleware(), svc.webhookHandler.ContactOwnerChange)

		// The consent redirect lands here without a session
		api.GET("/oauth/callback", svc.oauthHandler.Callback)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(svc.signer, svc.authService))
		{
			protected.POST("/users/logout", svc.authHandler.Logout)
			protected.GET("/users/me", svc.authHandler.GetCurrentUser)

			protected.GET("/oauth/generate", svc.oauthHandler.Generate)
			protected.POST("/oauth/refresh", svc.oauthHandler.Refresh)
			protected.GET("/oauth/status", svc.oauthHandler.Status)
		}
	}
}
