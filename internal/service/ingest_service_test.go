package service

import (
	"context"
	"errors"
	"testing"

	"cogni-rag-go/internal/model"
	"cogni-rag-go/internal/pipeline"
	"cogni-rag-go/internal/repository"
	"cogni-rag-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIngester struct {
	report    *pipeline.Report
	err       error
	runIDs    []string
	committed []map[string]bool
}

func (s *stubIngester) ResumeRun(_ context.Context, runID string, committed map[string]bool) (*pipeline.Report, error) {
	s.runIDs = append(s.runIDs, runID)
	s.committed = append(s.committed, committed)
	if s.report != nil {
		s.report.RunID = runID
	}
	return s.report, s.err
}

type stubPublisher struct {
	err   error
	tasks []tasks.IngestTask
}

func (s *stubPublisher) PublishIngestTask(_ context.Context, task tasks.IngestTask) error {
	s.tasks = append(s.tasks, task)
	return s.err
}

func TestIngestService_RunRecordsLedger(t *testing.T) {
	ctx := context.Background()
	ing := &stubIngester{report: &pipeline.Report{Chunks: 4, Documents: []pipeline.DocumentResult{
		{Name: "a.txt", Chunks: 1}, {Name: "b.txt", Chunks: 3},
	}}}
	repo := repository.NewMemoryIngestRunRepository()
	svc := NewIngestService(ing, repo, nil)

	run, err := svc.Run(ctx, TriggerAPI)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, 4, run.ChunkCount)
	assert.Equal(t, []string{run.ID}, ing.runIDs)

	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, stored.Status)
	assert.Equal(t, 2, stored.DocumentCount)
	require.Len(t, stored.Documents, 2)
	assert.Equal(t, "b.txt", stored.Documents[1].ObjectName)
	assert.Equal(t, 3, stored.Documents[1].ChunkCount)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.FinishedAt)
}

func TestIngestService_RunFailureKeepsPartialReport(t *testing.T) {
	ctx := context.Background()
	ing := &stubIngester{
		report: &pipeline.Report{Chunks: 1, Documents: []pipeline.DocumentResult{{Name: "a.txt", Chunks: 1}}},
		err:    errors.New("embedding provider unavailable"),
	}
	repo := repository.NewMemoryIngestRunRepository()
	svc := NewIngestService(ing, repo, nil)

	run, err := svc.Run(ctx, TriggerCLI)
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFailed, run.Status)

	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Equal(t, "embedding provider unavailable", stored.Error)
	assert.Equal(t, 1, stored.ChunkCount)
	assert.Len(t, stored.Documents, 1)
}

func TestIngestService_EnqueueAndProcess(t *testing.T) {
	ctx := context.Background()
	ing := &stubIngester{report: &pipeline.Report{Chunks: 2, Documents: []pipeline.DocumentResult{{Name: "x.md", Chunks: 2}}}}
	pub := &stubPublisher{}
	svc := NewIngestService(ing, repository.NewMemoryIngestRunRepository(), pub)

	run, err := svc.Enqueue(ctx, TriggerAPI)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	require.Len(t, pub.tasks, 1)
	assert.Equal(t, run.ID, pub.tasks[0].RunID)
	assert.Empty(t, ing.runIDs)

	require.NoError(t, svc.Process(ctx, pub.tasks[0]))
	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, stored.Status)
	assert.Equal(t, 2, stored.ChunkCount)

	// redelivery of a finished run is acknowledged without re-ingesting
	require.NoError(t, svc.Process(ctx, pub.tasks[0]))
	assert.Len(t, ing.runIDs, 1)
}

func TestIngestService_EnqueueErrors(t *testing.T) {
	ctx := context.Background()

	svc := NewIngestService(&stubIngester{}, repository.NewMemoryIngestRunRepository(), nil)
	_, err := svc.Enqueue(ctx, TriggerAPI)
	assert.ErrorIs(t, err, ErrAsyncDisabled)

	repo := repository.NewMemoryIngestRunRepository()
	svc = NewIngestService(&stubIngester{}, repo, &stubPublisher{err: errors.New("broker down")})
	run, err := svc.Enqueue(ctx, TriggerAPI)
	require.Error(t, err)
	stored, getErr := svc.GetRun(ctx, run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
}

func TestIngestService_ProcessUnknownRun(t *testing.T) {
	svc := NewIngestService(&stubIngester{}, repository.NewMemoryIngestRunRepository(), nil)
	err := svc.Process(context.Background(), tasks.IngestTask{RunID: "nope"})
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = svc.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestIngestService_ListRunsClampsLimit(t *testing.T) {
	ctx := context.Background()
	svc := NewIngestService(&stubIngester{report: &pipeline.Report{}}, repository.NewMemoryIngestRunRepository(), nil)
	for i := 0; i < 3; i++ {
		_, err := svc.Run(ctx, TriggerAPI)
		require.NoError(t, err)
	}

	runs, err := svc.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = svc.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

type limitRecorder struct {
	repository.IngestRunRepository
	limits []int
}

func (r *limitRecorder) List(ctx context.Context, limit int) ([]model.IngestRun, error) {
	r.limits = append(r.limits, limit)
	return r.IngestRunRepository.List(ctx, limit)
}

func TestIngestService_ListRunsLimitBounds(t *testing.T) {
	repo := &limitRecorder{IngestRunRepository: repository.NewMemoryIngestRunRepository()}
	svc := NewIngestService(&stubIngester{}, repo, nil)

	for _, limit := range []int{-1, 0, 50, 100, 101, 5000} {
		_, err := svc.ListRuns(context.Background(), limit)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{20, 20, 50, 100, 100, 100}, repo.limits)
}

func TestIngestService_RedeliveredFailedRunSkipsCommittedDocuments(t *testing.T) {
	ctx := context.Background()
	ing := &stubIngester{
		report: &pipeline.Report{Chunks: 2, Documents: []pipeline.DocumentResult{{Name: "a.txt", Chunks: 2}}},
		err:    errors.New("embedding provider unavailable"),
	}
	pub := &stubPublisher{}
	svc := NewIngestService(ing, repository.NewMemoryIngestRunRepository(), pub)

	run, err := svc.Enqueue(ctx, TriggerAPI)
	require.NoError(t, err)
	require.Error(t, svc.Process(ctx, pub.tasks[0]))
	assert.Empty(t, ing.committed[0])

	// 第二次投递只提交剩下的文档
	ing.report = &pipeline.Report{Chunks: 3, Documents: []pipeline.DocumentResult{{Name: "b.txt", Chunks: 3}}}
	ing.err = nil
	require.NoError(t, svc.Process(ctx, pub.tasks[0]))
	assert.Equal(t, map[string]bool{"a.txt": true}, ing.committed[1])

	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, stored.Status)
	assert.Empty(t, stored.Error)
	assert.Equal(t, 2, stored.DocumentCount)
	assert.Equal(t, 5, stored.ChunkCount)
	require.Len(t, stored.Documents, 2)
	assert.Equal(t, "a.txt", stored.Documents[0].ObjectName)
	assert.Equal(t, "b.txt", stored.Documents[1].ObjectName)
}
