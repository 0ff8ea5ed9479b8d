package main

import (
	"github.com/gin-gonic/gin"
	"github.com/thereayou/concord/internal/handlers"
	"github.com/thereayou/concord/internal/middleware"
	"github.com/thereayou/concord/pkg/auth"
)

func APIEndpoints(r *gin.Engine, wsH *handlers.WebSocketHandler, httpH *handlers.HTTPHandler, jwtMgr *auth.JWTManager, limiter *middleware.UploadLimiter) {
	r.Use(middleware.CorrelationID(), middleware.Tracing())

	r.GET("/ws", wsH.HandleWebSocket)
	r.GET("/health", httpH.Health)
	r.GET("/invites/:id", httpH.GetInvite)

	// File endpoints
	fileRoutes := r.Group("/files", middleware.SessionAuth(jwtMgr))
	{
		fileRoutes.POST("", limiter.Middleware(), httpH.UploadFile)
		fileRoutes.GET("/:id", httpH.DownloadFile)
	}
}
