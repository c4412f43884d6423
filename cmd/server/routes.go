package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/middleware"
	"github.com/huangang/tracer/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.AllowOrigins))

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", svc.metricsHandler.Metrics)

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth", middleware.AuditLog())
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", svc.authHandler.Login)
		}

		api.GET("/price-policies", svc.policyHandler.List)

		// Payment provider callbacks (public, signature verified)
		api.POST("/payments/notify", svc.notifyLimiter.Middleware(), svc.paymentHandler.Notify)
		api.GET("/payments/return", middleware.OptionalAuth(), svc.paymentHandler.Return)

		// Protected routes: JWT, then user and policy, then project
		protected := api.Group("")
		protected.Use(
			middleware.AuthRequired(),
			middleware.LoadTracer(svc.authService, svc.entitlementService),
			middleware.AuditLog(),
		)
		{
			protected.GET("/auth/me", svc.authHandler.Me)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)
			protected.GET("/auth/activity", svc.logHandler.Activity)

			protected.GET("/entitlement", svc.policyHandler.Entitlement)

			protected.GET("/projects", svc.projectHandler.List)
			protected.POST("/projects", svc.projectHandler.Create)

			project := protected.Group("/projects/:project_id", middleware.ProjectRequired(svc.accessService))
			{
				project.GET("", svc.projectHandler.Get)
				project.DELETE("", svc.projectHandler.Delete)
				project.POST("/star", svc.projectHandler.ToggleStar)
				project.POST("/invites", svc.inviteHandler.Create)
				project.POST("/files/upload-url", svc.projectHandler.UploadURL)
				project.GET("/members", svc.memberHandler.List)
				project.DELETE("/members/:user_id", svc.memberHandler.Remove)
			}

			protected.POST("/invites/:code/redeem", svc.redeemLimiter.Middleware(), svc.inviteHandler.Redeem)

			protected.GET("/payments/quote", svc.paymentHandler.Quote)
			protected.POST("/payments", svc.paymentHandler.Initiate)
			protected.GET("/payments/:order_id", svc.paymentHandler.GetOrder)
		}
	}
}
