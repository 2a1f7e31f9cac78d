package handler

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"cogni-rag-go/internal/service"
	"cogni-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

func documentErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidDocumentName):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPreviewUnsupported):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// Upload 处理 multipart 上传。可选的 name 表单字段覆盖原始文件名。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = path.Base(fh.Filename)
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件"})
		return
	}
	defer f.Close()

	info, err := h.docService.Upload(c.Request.Context(), name, f, fh.Size, fh.Header.Get("Content-Type"))
	if err != nil {
		log.Error("Upload: failed", err)
		c.JSON(documentErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "上传成功", "data": info})
}

// List 返回容器中的全部文档。
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docService.List(c.Request.Context())
	if err != nil {
		log.Error("ListDocuments: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文件列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "获取文件列表成功", "data": docs})
}

// Delete 处理删除文档的请求。
func (h *DocumentHandler) Delete(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if err := h.docService.Delete(c.Request.Context(), name); err != nil {
		c.JSON(documentErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "删除成功"})
}

// Download 生成预签名下载链接。
func (h *DocumentHandler) Download(c *gin.Context) {
	info, err := h.docService.GenerateDownloadURL(c.Request.Context(), c.Query("name"))
	if err != nil {
		c.JSON(documentErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": info})
}

// Preview 返回文档的纯文本预览。
func (h *DocumentHandler) Preview(c *gin.Context) {
	info, err := h.docService.GetPreviewContent(c.Request.Context(), c.Query("name"))
	if err != nil {
		c.JSON(documentErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": info})
}
