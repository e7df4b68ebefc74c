package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vidiox/auth"
	"vidiox/config"
	"vidiox/storage"
	"vidiox/video"
)

func SetupRouter(videos *video.Service, files *storage.FileStore, tokens *auth.TokenManager, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(log))
	h := NewHandler(videos, files, cfg, log)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Stored names carry a random ULID, so artifact links work without a token.
	r.GET("/outputs/:filename", h.handleGetFile)

	v := r.Group("/api")
	v.Use(AuthMiddleware(tokens))
	{
		v.POST("/upload", h.handleSubmit)
		v.GET("/status/:taskId", h.handleGetStatus)

		v.POST("/videos", h.handleUpload)
		v.GET("/videos", h.handleListVideos)
		v.GET("/videos/:id", h.handleGetVideo)
		v.POST("/enhance", h.handleEnhance)

		v.GET("/download/:filename", h.handleGetFile)
	}
	return r
}
