package api

import (
	"net/http"
	"pixbin/image-app/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authService service.AuthService,
	uploadService service.UploadService,
	batchService service.BatchService,
	artifactService service.ArtifactService,
) {
	authHandler := NewAuthHandler(authService)
	uploadHandler := NewUploadHandler(uploadService, batchService)
	artifactHandler := NewArtifactHandler(artifactService, uploadService)

	authMiddleware := AuthMiddleware(jwtSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Public short links.
	router.GET("/i/:shortId", artifactHandler.Resolve)

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		uploadGroup := protected.Group("/upload")
		{
			// POST /api/v1/upload/init - single file or batch
			uploadGroup.POST("/init", uploadHandler.InitUpload)
			// POST /api/v1/upload/{sessionId}/complete
			uploadGroup.POST("/:sessionId/complete", uploadHandler.CompleteUpload)
			// GET /api/v1/upload/{sessionId}/progress
			uploadGroup.GET("/:sessionId/progress", uploadHandler.GetProgress)
			// PATCH /api/v1/upload/{sessionId}/progress - out-of-band byte report
			uploadGroup.PATCH("/:sessionId/progress", uploadHandler.ReportProgress)
		}

		// GET /api/v1/quota
		protected.GET("/quota", artifactHandler.GetQuota)
		// DELETE /api/v1/artifacts/{shortId}
		protected.DELETE("/artifacts/:shortId", artifactHandler.Delete)
	}
}
