package http

import (
	"github.com/gin-gonic/gin"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/logging"
	"github.com/givechain/warden/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, approvalService *service.ApprovalService) *gin.Engine {
	router := gin.New()
	router.Use(logging.GinHandlerFunc(), gin.Recovery())

	handlers := NewHandlers(authService, approvalService)

	auth := router.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/login", handlers.Login)
	}

	authed := router.Group("/auth")
	authed.Use(AuthMiddleware(authService))
	{
		authed.POST("/refresh", handlers.Refresh)
		authed.POST("/logout", handlers.Logout)
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)

		admin := api.Group("/organizations")
		admin.Use(RequireRole(core.Role.CanApproveOrganizations))
		{
			admin.POST("/:id/approve", handlers.Approve)
			admin.POST("/:id/reject", handlers.Reject)
			admin.POST("/:id/retry-commit", handlers.RetryCommit)
		}
	}

	// Status is readable without a credential so waiting callers can poll.
	router.GET("/organizations/:id/status", handlers.Status)

	return router
}
