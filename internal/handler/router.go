package handler

import (
	"net/http"

	"cogni-rag-go/internal/middleware"
	"cogni-rag-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// NewRouter 创建路由引擎并注册全部路由。
func NewRouter(mode string, jwtManager *token.JWTManager, rag *RAGHandler, docs *DocumentHandler) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	admin := middleware.AdminAuthMiddleware()

	ragGroup := apiV1.Group("/rag")
	{
		ragGroup.POST("/query", rag.Query)
		ragGroup.GET("/index/stats", rag.IndexStats)
		ragGroup.DELETE("/index", admin, rag.ResetIndex)
		ragGroup.POST("/ingest", admin, rag.Ingest)
		ragGroup.GET("/ingest/runs", rag.ListRuns)
		ragGroup.GET("/ingest/runs/:id", rag.GetRun)
	}

	documents := apiV1.Group("/documents")
	{
		documents.GET("", docs.List)
		documents.POST("", admin, docs.Upload)
		documents.GET("/download", docs.Download)
		documents.GET("/preview", docs.Preview)
		// 文档名可以包含目录层级
		documents.DELETE("/*name", admin, docs.Delete)
	}

	return r
}
