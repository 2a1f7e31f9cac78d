// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"cogni-rag-go/internal/model"
	"cogni-rag-go/internal/pipeline"
	"cogni-rag-go/internal/service"
	"cogni-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// RAGHandler 负责入库、问答和索引运维相关的 API 请求。
type RAGHandler struct {
	ingestService service.IngestService
	queryService  service.QueryService
	indexService  service.IndexService
}

// NewRAGHandler 创建一个新的 RAGHandler 实例。
func NewRAGHandler(ingestService service.IngestService, queryService service.QueryService, indexService service.IndexService) *RAGHandler {
	return &RAGHandler{
		ingestService: ingestService,
		queryService:  queryService,
		indexService:  indexService,
	}
}

// Ingest 触发一次入库运行。?async=true 时通过 Kafka 异步执行。
func (h *RAGHandler) Ingest(c *gin.Context) {
	async, _ := strconv.ParseBool(c.Query("async"))
	if async {
		run, err := h.ingestService.Enqueue(c.Request.Context(), service.TriggerAPI)
		if err != nil {
			if errors.Is(err, service.ErrAsyncDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			log.Error("Ingest: enqueue failed", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "data": run})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"code":    http.StatusAccepted,
			"message": "入库任务已提交",
			"data":    run,
		})
		return
	}

	run, err := h.ingestService.Run(c.Request.Context(), service.TriggerAPI)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrNoDocuments) {
			status = http.StatusBadRequest
		}
		log.Error("Ingest: run failed", err)
		c.JSON(status, gin.H{"error": err.Error(), "data": run})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "入库完成",
		"data":    run,
	})
}

// ListRuns 返回最近的入库运行记录。
func (h *RAGHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.ingestService.ListRuns(c.Request.Context(), limit)
	if err != nil {
		log.Error("ListRuns: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取入库记录失败"})
		return
	}
	if runs == nil {
		runs = []model.IngestRun{}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": runs})
}

// GetRun 返回单次入库运行的详情。
func (h *RAGHandler) GetRun(c *gin.Context) {
	run, err := h.ingestService.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "入库记录不存在"})
			return
		}
		log.Error("GetRun: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取入库记录失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": run})
}

// Query 基于文档回答问题。协作方故障时仍返回 200 与降级结果。
func (h *RAGHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	res, err := h.queryService.Query(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuestion) || errors.Is(err, service.ErrQuestionRejected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error("Query: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "问答失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    res.Response(),
	})
}

// IndexStats 返回向量索引的条目数。
func (h *RAGHandler) IndexStats(c *gin.Context) {
	stats, err := h.indexService.Stats(c.Request.Context())
	if err != nil {
		log.Error("IndexStats: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取索引状态失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": stats})
}

// ResetIndex 清空向量索引。
func (h *RAGHandler) ResetIndex(c *gin.Context) {
	if err := h.indexService.Reset(c.Request.Context()); err != nil {
		log.Error("ResetIndex: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "重置索引失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "索引已重置"})
}
