package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cogni-rag-go/internal/model"
	"cogni-rag-go/internal/pipeline"
	"cogni-rag-go/internal/repository"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/tasks"

	"github.com/google/uuid"
)

// 入库运行的触发来源。
const (
	TriggerAPI = "api"
	TriggerCLI = "cli"
)

var (
	// ErrRunNotFound 表示入库运行记录不存在。
	ErrRunNotFound = errors.New("ingest run not found")
	// ErrAsyncDisabled 表示未配置 Kafka，无法异步入库。
	ErrAsyncDisabled = errors.New("asynchronous ingestion is not configured")
)

// Ingester 执行一次入库运行，由 pipeline.Processor 实现。
// committed 中的文档已在同一运行中提交，需要跳过。
type Ingester interface {
	ResumeRun(ctx context.Context, runID string, committed map[string]bool) (*pipeline.Report, error)
}

// TaskPublisher 发布异步入库任务，由 Kafka 生产者实现。
type TaskPublisher interface {
	PublishIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// IngestService 接口定义了入库运行的触发与查询操作。
type IngestService interface {
	// Run 同步执行一次入库。失败时同时返回已记录为 failed 的运行和错误。
	Run(ctx context.Context, trigger string) (*model.IngestRun, error)
	// Enqueue 创建一条 queued 运行记录并通过 Kafka 异步执行。
	Enqueue(ctx context.Context, trigger string) (*model.IngestRun, error)
	// Process 执行一个从 Kafka 收到的入库任务。
	Process(ctx context.Context, task tasks.IngestTask) error
	GetRun(ctx context.Context, id string) (*model.IngestRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)
}

type ingestService struct {
	ingester  Ingester
	runs      repository.IngestRunRepository
	publisher TaskPublisher
	now       func() time.Time
}

// NewIngestService 创建一个新的 IngestService 实例。publisher 为 nil 时 Enqueue 返回 ErrAsyncDisabled。
func NewIngestService(ingester Ingester, runs repository.IngestRunRepository, publisher TaskPublisher) IngestService {
	return &ingestService{ingester: ingester, runs: runs, publisher: publisher, now: time.Now}
}

func (s *ingestService) newRun(trigger, status string) *model.IngestRun {
	return &model.IngestRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    status,
		CreatedAt: s.now(),
	}
}

func (s *ingestService) Run(ctx context.Context, trigger string) (*model.IngestRun, error) {
	run := s.newRun(trigger, model.RunStatusQueued)
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("创建入库运行记录失败: %w", err)
	}
	return s.execute(ctx, run)
}

func (s *ingestService) Enqueue(ctx context.Context, trigger string) (*model.IngestRun, error) {
	if s.publisher == nil {
		return nil, ErrAsyncDisabled
	}
	run := s.newRun(trigger, model.RunStatusQueued)
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("创建入库运行记录失败: %w", err)
	}

	task := tasks.IngestTask{RunID: run.ID, Trigger: trigger, EnqueuedAt: run.CreatedAt}
	if err := s.publisher.PublishIngestTask(ctx, task); err != nil {
		s.finish(ctx, run, nil, nil, fmt.Errorf("发布入库任务失败: %w", err))
		return run, fmt.Errorf("发布入库任务失败: %w", err)
	}
	log.Infof("[IngestService] 入库任务已发布到 Kafka, RunID: %s", run.ID)
	return run, nil
}

func (s *ingestService) Process(ctx context.Context, task tasks.IngestTask) error {
	run, err := s.runs.FindByID(ctx, task.RunID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, task.RunID)
	}
	if err != nil {
		return err
	}
	// 重复投递的已完成任务直接确认，避免重复写入索引
	if run.Status == model.RunStatusSucceeded {
		log.Warnf("[IngestService] 运行 %s 已完成, 忽略重复任务", run.ID)
		return nil
	}
	_, err = s.execute(ctx, run)
	return err
}

func (s *ingestService) execute(ctx context.Context, run *model.IngestRun) (*model.IngestRun, error) {
	// 重新执行失败的运行时，保留台账里已提交的文档，不再重复入库
	prior := run.Documents
	committed := make(map[string]bool, len(prior))
	for _, d := range prior {
		committed[d.ObjectName] = true
	}
	if len(prior) > 0 {
		log.Infof("[IngestService] 运行 %s 继续执行, 跳过已提交的 %d 个文档", run.ID, len(prior))
	}

	started := s.now()
	run.Status = model.RunStatusRunning
	run.StartedAt = &started
	run.FinishedAt = nil
	run.Error = ""
	if err := s.runs.Update(ctx, run); err != nil {
		log.Warnf("[IngestService] 更新运行状态失败, RunID: %s: %v", run.ID, err)
	}

	report, err := s.ingester.ResumeRun(ctx, run.ID, committed)
	s.finish(ctx, run, prior, report, err)
	if err != nil {
		return run, err
	}
	return run, nil
}

// finish 记录新提交的文档并写入最终状态。prior 是之前执行已记录的文档，计入总数但不重复写入。
// 台账写入失败只记日志，不覆盖入库结果。
func (s *ingestService) finish(ctx context.Context, run *model.IngestRun, prior []model.IngestedDocument, report *pipeline.Report, runErr error) {
	finished := s.now()
	run.FinishedAt = &finished

	var added []model.IngestedDocument
	if report != nil {
		for _, d := range report.Documents {
			added = append(added, model.IngestedDocument{RunID: run.ID, ObjectName: d.Name, ChunkCount: d.Chunks})
		}
	}
	run.Documents = append(append([]model.IngestedDocument(nil), prior...), added...)
	run.DocumentCount = len(run.Documents)
	run.ChunkCount = 0
	for _, d := range run.Documents {
		run.ChunkCount += d.ChunkCount
	}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = model.RunStatusSucceeded
	}

	// 使用独立的 context，保证请求取消后台账仍能落库
	saveCtx := context.WithoutCancel(ctx)
	if err := s.runs.AddDocuments(saveCtx, added); err != nil {
		log.Errorf("[IngestService] 记录已入库文档失败, RunID: %s: %v", run.ID, err)
	}
	if err := s.runs.Update(saveCtx, run); err != nil {
		log.Errorf("[IngestService] 更新运行状态失败, RunID: %s: %v", run.ID, err)
	}
	log.Infof("[IngestService] 运行 %s 结束, 状态: %s, 文档: %d, 分块: %d", run.ID, run.Status, run.DocumentCount, run.ChunkCount)
}

func (s *ingestService) GetRun(ctx context.Context, id string) (*model.IngestRun, error) {
	run, err := s.runs.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return run, err
}

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

func (s *ingestService) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	switch {
	case limit <= 0:
		limit = defaultRunLimit
	case limit > maxRunLimit:
		limit = maxRunLimit
	}
	return s.runs.List(ctx, limit)
}
