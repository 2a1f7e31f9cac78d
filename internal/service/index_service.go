package service

import (
	"context"
	"fmt"

	"cogni-rag-go/internal/model"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/vectorindex"
)

// IndexService 接口定义了向量索引的运维操作。
type IndexService interface {
	Stats(ctx context.Context) (*model.IndexStatsDTO, error)
	Reset(ctx context.Context) error
}

type indexService struct {
	index   vectorindex.Index
	backend string
}

// NewIndexService 创建一个新的 IndexService 实例。
func NewIndexService(index vectorindex.Index, backend string) IndexService {
	return &indexService{index: index, backend: backend}
}

func (s *indexService) Stats(ctx context.Context) (*model.IndexStatsDTO, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计索引条目失败: %w", err)
	}
	return &model.IndexStatsDTO{Backend: s.backend, Entries: n}, nil
}

// Reset 清空索引。运行台账不受影响。
func (s *indexService) Reset(ctx context.Context) error {
	if err := s.index.Reset(ctx); err != nil {
		return fmt.Errorf("重置索引失败: %w", err)
	}
	log.Warnf("[IndexService] 向量索引已重置, backend: %s", s.backend)
	return nil
}
