package handler

import (
	"github.com/IoanaComaniciu00/Lets-Fit-It/middleware"
	"github.com/gin-gonic/gin"
)

// NewRouter 注册中间件与路由
func NewRouter(segment *SegmentHandler, health *HealthHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查和版本信息
	r.GET("/health", health.Health)
	r.GET("/version", health.Version)

	// 移动端沿用的路径
	r.POST("/segment", segment.Segment)

	api := r.Group("/api/v1")
	{
		api.POST("/segment", segment.Segment)
		api.GET("/cutout/:md5", segment.GetByMD5)
	}

	return r
}
