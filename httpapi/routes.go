package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the /v1 API on router.
func RegisterRoutes(router gin.IRouter, h *Handler) {
	v1 := router.Group("/v1")
	{
		v1.POST("/info", h.HandleInfo)
		v1.POST("/image-to-video", h.HandleImageToVideo)
		v1.POST("/merge", h.HandleMerge)
		v1.POST("/split", h.HandleSplit)
		v1.POST("/watermark", h.HandleWatermark)
		v1.GET("/providers", h.HandleProviders)
	}
}

// NewRouter returns a gin engine with the API and request logging.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.logRequests())
	RegisterRoutes(router, h)
	return router
}

func (h *Handler) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
