package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"cogni-rag-go/internal/model"
	"cogni-rag-go/internal/pipeline"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/storage"
)

const (
	// downloadURLExpiry 是预签名下载链接的有效期。
	downloadURLExpiry = time.Hour
	// previewMaxRunes 是预览内容的最大字符数。
	previewMaxRunes = 10000
)

var (
	// ErrInvalidDocumentName 表示文档名为空或包含路径穿越。
	ErrInvalidDocumentName = errors.New("invalid document name")
	// ErrDocumentNotFound 表示文档不存在。
	ErrDocumentNotFound = errors.New("document not found")
	// ErrPreviewUnsupported 表示该类型的文档无法预览。
	ErrPreviewUnsupported = errors.New("preview is not supported for this document type")
)

// DocumentService 接口定义了文档容器的管理操作。
type DocumentService interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (*model.DocumentInfoDTO, error)
	List(ctx context.Context) ([]model.DocumentInfoDTO, error)
	Delete(ctx context.Context, name string) error
	GenerateDownloadURL(ctx context.Context, name string) (*model.DownloadInfoDTO, error)
	GetPreviewContent(ctx context.Context, name string) (*model.PreviewInfoDTO, error)
}

type documentService struct {
	store     storage.ObjectStore
	extractor pipeline.TextExtractor
	textExt   map[string]bool
}

// NewDocumentService 创建一个新的 DocumentService 实例。extractor 为 nil 时只能预览纯文本文档。
func NewDocumentService(store storage.ObjectStore, extractor pipeline.TextExtractor, textExtensions []string) DocumentService {
	return &documentService{store: store, extractor: extractor, textExt: pipeline.ExtensionSet(textExtensions)}
}

func checkName(name string) error {
	if err := storage.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocumentName, err)
	}
	return nil
}

func mapStorageErr(err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return ErrDocumentNotFound
	}
	return err
}

// Upload 上传文档，同名文档直接覆盖。
func (s *documentService) Upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (*model.DocumentInfoDTO, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, name, r, size, contentType); err != nil {
		return nil, err
	}
	info, err := s.store.Stat(ctx, name)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	log.Infof("[DocumentService] 文档 '%s' 上传成功", name)
	dto := toDocumentInfo(info)
	return &dto, nil
}

// List 返回容器中的全部文档。
func (s *documentService) List(ctx context.Context) ([]model.DocumentInfoDTO, error) {
	objs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.DocumentInfoDTO, 0, len(objs))
	for _, o := range objs {
		out = append(out, toDocumentInfo(o))
	}
	return out, nil
}

// Delete 删除一个文档。已写入索引的分块不受影响。
func (s *documentService) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, name); err != nil {
		return mapStorageErr(err)
	}
	return nil
}

// GenerateDownloadURL 生成文件的临时下载链接。
func (s *documentService) GenerateDownloadURL(ctx context.Context, name string) (*model.DownloadInfoDTO, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	info, err := s.store.Stat(ctx, name)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	u, err := s.store.PresignedURL(ctx, name, downloadURLExpiry)
	if err != nil {
		return nil, err
	}
	return &model.DownloadInfoDTO{Name: name, DownloadURL: u, Size: info.Size}, nil
}

// GetPreviewContent 获取文件的纯文本预览内容。
func (s *documentService) GetPreviewContent(ctx context.Context, name string) (*model.PreviewInfoDTO, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	ext := strings.ToLower(path.Ext(name))
	if !s.textExt[ext] && s.extractor == nil {
		return nil, ErrPreviewUnsupported
	}

	data, err := s.store.Read(ctx, name)
	if err != nil {
		return nil, mapStorageErr(err)
	}

	content := string(data)
	if !s.textExt[ext] {
		// 将文件内容发送给 Tika 进行文本提取
		content, err = s.extractor.ExtractText(ctx, bytes.NewReader(data), name)
		if err != nil {
			return nil, fmt.Errorf("使用 Tika 提取文本失败: %w", err)
		}
	}

	content = pipeline.NormalizeLineEndings(content)
	truncated := false
	if utf8.RuneCountInString(content) > previewMaxRunes {
		content = string([]rune(content)[:previewMaxRunes])
		truncated = true
	}
	return &model.PreviewInfoDTO{Name: name, Content: content, Size: int64(len(data)), Truncated: truncated}, nil
}

func toDocumentInfo(o storage.ObjectInfo) model.DocumentInfoDTO {
	return model.DocumentInfoDTO{
		Name:         o.Name,
		Size:         o.Size,
		ContentType:  o.ContentType,
		LastModified: model.LocalTime(o.LastModified),
	}
}
