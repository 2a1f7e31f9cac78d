// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"cogni-rag-go/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")

// IngestRunRepository 接口定义了入库运行台账的持久化操作。
type IngestRunRepository interface {
	Create(ctx context.Context, run *model.IngestRun) error
	// Update 保存运行本身的字段，不处理 Documents。
	Update(ctx context.Context, run *model.IngestRun) error
	AddDocuments(ctx context.Context, docs []model.IngestedDocument) error
	FindByID(ctx context.Context, id string) (*model.IngestRun, error)
	// List 按创建时间倒序返回最近的 limit 条运行记录。
	List(ctx context.Context, limit int) ([]model.IngestRun, error)
}

// ingestRunRepository 是 IngestRunRepository 接口的 GORM 实现。
type ingestRunRepository struct {
	db *gorm.DB
}

// NewIngestRunRepository 创建一个新的 IngestRunRepository 实例。
func NewIngestRunRepository(db *gorm.DB) IngestRunRepository {
	return &ingestRunRepository{db: db}
}

func (r *ingestRunRepository) Create(ctx context.Context, run *model.IngestRun) error {
	return r.db.WithContext(ctx).Omit("Documents").Create(run).Error
}

func (r *ingestRunRepository) Update(ctx context.Context, run *model.IngestRun) error {
	return r.db.WithContext(ctx).Model(&model.IngestRun{ID: run.ID}).Select(
		"Status", "DocumentCount", "ChunkCount", "Error", "StartedAt", "FinishedAt",
	).Updates(run).Error
}

func (r *ingestRunRepository) AddDocuments(ctx context.Context, docs []model.IngestedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&docs).Error
}

func (r *ingestRunRepository) FindByID(ctx context.Context, id string) (*model.IngestRun, error) {
	var run model.IngestRun
	err := r.db.WithContext(ctx).Preload("Documents", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *ingestRunRepository) List(ctx context.Context, limit int) ([]model.IngestRun, error) {
	var runs []model.IngestRun
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// memoryIngestRunRepository 在未配置 MySQL 时保存进程内的运行台账。
type memoryIngestRunRepository struct {
	mu     sync.RWMutex
	runs   map[string]model.IngestRun
	docs   map[string][]model.IngestedDocument
	nextID uint
}

// NewMemoryIngestRunRepository 创建一个进程内的 IngestRunRepository。
func NewMemoryIngestRunRepository() IngestRunRepository {
	return &memoryIngestRunRepository{
		runs: make(map[string]model.IngestRun),
		docs: make(map[string][]model.IngestedDocument),
	}
}

func (r *memoryIngestRunRepository) Create(_ context.Context, run *model.IngestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return errors.New("duplicate run id")
	}
	stored := *run
	stored.Documents = nil
	r.runs[run.ID] = stored
	return nil
}

func (r *memoryIngestRunRepository) Update(_ context.Context, run *model.IngestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = run.Status
	stored.DocumentCount = run.DocumentCount
	stored.ChunkCount = run.ChunkCount
	stored.Error = run.Error
	stored.StartedAt = run.StartedAt
	stored.FinishedAt = run.FinishedAt
	r.runs[run.ID] = stored
	return nil
}

func (r *memoryIngestRunRepository) AddDocuments(_ context.Context, docs []model.IngestedDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		r.nextID++
		d.ID = r.nextID
		r.docs[d.RunID] = append(r.docs[d.RunID], d)
	}
	return nil
}

func (r *memoryIngestRunRepository) FindByID(_ context.Context, id string) (*model.IngestRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	run.Documents = append([]model.IngestedDocument(nil), r.docs[id]...)
	return &run, nil
}

func (r *memoryIngestRunRepository) List(_ context.Context, limit int) ([]model.IngestRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runs := make([]model.IngestRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
