package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/model"
	"cogni-rag-go/pkg/embedding"
	"cogni-rag-go/pkg/llm"
	"cogni-rag-go/pkg/safety"
	"cogni-rag-go/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct{ mock.Mock }

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([]embedding.Embedded, error) {
	args := m.Called(ctx, texts)
	out, _ := args.Get(0).([]embedding.Embedded)
	return out, args.Error(1)
}

type mockCompleter struct{ mock.Mock }

func (m *mockCompleter) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	args := m.Called(ctx, messages, gen)
	return args.String(0), args.Error(1)
}

type mockIndex struct {
	mock.Mock
	vectorindex.Index
}

func (m *mockIndex) Search(ctx context.Context, vector []float32, topK int) ([]model.SearchHit, error) {
	args := m.Called(ctx, vector, topK)
	out, _ := args.Get(0).([]model.SearchHit)
	return out, args.Error(1)
}

type mockSafety struct{ mock.Mock }

func (m *mockSafety) AnalyzeText(ctx context.Context, text string) (*safety.Analysis, error) {
	args := m.Called(ctx, text)
	out, _ := args.Get(0).(*safety.Analysis)
	return out, args.Error(1)
}

// echoCompleter 原样返回所有消息内容，用来验证回答基于检索到的上下文。
type echoCompleter struct {
	messages []llm.Message
}

func (e *echoCompleter) Complete(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	e.messages = messages
	var parts []string
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\r\n"), nil
}

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{
		ChunkSize: 500,
		TopK:      5,
		Prompt: config.RAGPromptConfig{
			QueryTemplate:    "Answer based on company documentation: %s",
			SystemTemplate:   "Use this context:\n%s",
			ContextSeparator: "\n\n---\n\n",
			NoResultText:     "No relevant information was found in the documentation.",
			ErrorText:        "An error occurred while processing your question.",
		},
	}
}

func vec(v ...float32) []embedding.Embedded {
	return []embedding.Embedded{{Text: "q", Vector: v}}
}

func TestQuery_WidgetScenario(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory(2)
	require.NoError(t, idx.Upsert(ctx, []model.IndexedEntry{{ID: "1", Content: "X is a widget", Vector: []float32{1, 0}}}))

	emb := &mockEmbedder{}
	emb.On("Embed", mock.Anything, []string{"Answer based on company documentation: What is X?"}).Return(vec(1, 0.1), nil)
	echo := &echoCompleter{}

	svc := NewQueryService(emb, idx, echo, nil, testRAGConfig(), config.ContentSafetyConfig{})
	res, err := svc.Query(ctx, "What is X?", 5)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, res.Outcome)
	assert.Equal(t, []string{"X is a widget"}, res.Sources)
	assert.Contains(t, res.Answer, "X is a widget")
	assert.NotContains(t, res.Answer, "\r")

	require.Len(t, echo.messages, 2)
	assert.Equal(t, "system", echo.messages[0].Role)
	assert.Equal(t, "Use this context:\nX is a widget", echo.messages[0].Content)
	assert.Equal(t, llm.Message{Role: "user", Content: "What is X?"}, echo.messages[1])
	emb.AssertExpectations(t)
}

func TestQuery_NoMatchesSkipsCompletion(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1, 0), nil)
	comp := &mockCompleter{}

	svc := NewQueryService(emb, vectorindex.NewMemory(2), comp, nil, testRAGConfig(), config.ContentSafetyConfig{})
	res, err := svc.Query(context.Background(), "anything", 3)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoContext, res.Outcome)
	assert.Equal(t, "No relevant information was found in the documentation.", res.Answer)
	assert.Empty(t, res.Sources)
	assert.NotNil(t, res.Sources)
	comp.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestQuery_BlankHitsCountAsNoContext(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1, 0), nil)
	idx := &mockIndex{}
	idx.On("Search", mock.Anything, []float32{1, 0}, 5).Return([]model.SearchHit{{Content: "  "}, {Content: ""}}, nil)
	comp := &mockCompleter{}

	svc := NewQueryService(emb, idx, comp, nil, testRAGConfig(), config.ContentSafetyConfig{})
	res, err := svc.Query(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoContext, res.Outcome)
	comp.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestQuery_ContextAssembly(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1, 0), nil)
	idx := &mockIndex{}
	idx.On("Search", mock.Anything, mock.Anything, 2).Return([]model.SearchHit{
		{Content: "first\r\nline"},
		{Content: " "},
		{Content: "second\rline"},
	}, nil)
	comp := &mockCompleter{}
	comp.On("Complete", mock.Anything, mock.Anything, (*llm.GenerationParams)(nil)).Return("answer\r\ntext", nil)

	svc := NewQueryService(emb, idx, comp, nil, testRAGConfig(), config.ContentSafetyConfig{})
	res, err := svc.Query(context.Background(), "q", 2)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, res.Outcome)
	assert.Equal(t, "answer\ntext", res.Answer)
	assert.Equal(t, []string{"first\nline", "second\nline"}, res.Sources)

	messages := comp.Calls[0].Arguments.Get(1).([]llm.Message)
	assert.Equal(t, "Use this context:\nfirst\nline\n\n---\n\nsecond\nline", messages[0].Content)
}

func TestQuery_CollaboratorFailuresDegrade(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(emb *mockEmbedder, idx *mockIndex, comp *mockCompleter)
	}{
		{
			name: "embedding",
			setup: func(emb *mockEmbedder, _ *mockIndex, _ *mockCompleter) {
				emb.On("Embed", mock.Anything, mock.Anything).Return(nil, boom)
			},
		},
		{
			name: "search",
			setup: func(emb *mockEmbedder, idx *mockIndex, _ *mockCompleter) {
				emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1), nil)
				idx.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)
			},
		},
		{
			name: "completion",
			setup: func(emb *mockEmbedder, idx *mockIndex, comp *mockCompleter) {
				emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1), nil)
				idx.On("Search", mock.Anything, mock.Anything, mock.Anything).Return([]model.SearchHit{{Content: "ctx"}}, nil)
				comp.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", boom)
			},
		},
		{
			name: "count mismatch",
			setup: func(emb *mockEmbedder, _ *mockIndex, _ *mockCompleter) {
				emb.On("Embed", mock.Anything, mock.Anything).Return([]embedding.Embedded{}, nil)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, idx, comp := &mockEmbedder{}, &mockIndex{}, &mockCompleter{}
			tt.setup(emb, idx, comp)

			svc := NewQueryService(emb, idx, comp, nil, testRAGConfig(), config.ContentSafetyConfig{})
			res, err := svc.Query(context.Background(), "q", 5)
			require.NoError(t, err)
			require.NotNil(t, res)

			assert.Equal(t, OutcomeDegraded, res.Outcome)
			assert.Equal(t, "An error occurred while processing your question.", res.Answer)
			require.Len(t, res.Sources, 1)
			assert.Equal(t, res.Reason, res.Sources[0])
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestQuery_EmptyQuestion(t *testing.T) {
	emb := &mockEmbedder{}
	svc := NewQueryService(emb, &mockIndex{}, &mockCompleter{}, nil, testRAGConfig(), config.ContentSafetyConfig{})

	for _, q := range []string{"", "   ", "\n\t"} {
		res, err := svc.Query(context.Background(), q, 5)
		assert.ErrorIs(t, err, ErrEmptyQuestion)
		assert.Nil(t, res)
	}
	emb.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestQuery_TopKDefaultsAndCap(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 5},
		{-1, 5},
		{7, 7},
		{500, MaxTopK},
	}
	for _, tt := range tests {
		emb := &mockEmbedder{}
		emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1), nil)
		idx := &mockIndex{}
		idx.On("Search", mock.Anything, mock.Anything, tt.want).Return([]model.SearchHit{}, nil)

		svc := NewQueryService(emb, idx, &mockCompleter{}, nil, testRAGConfig(), config.ContentSafetyConfig{})
		_, err := svc.Query(context.Background(), "q", tt.in)
		require.NoError(t, err)
		idx.AssertExpectations(t)
	}
}

func TestQuery_SafetyRejection(t *testing.T) {
	emb := &mockEmbedder{}
	sc := &mockSafety{}
	sc.On("AnalyzeText", mock.Anything, "bad question").Return(&safety.Analysis{Categories: []safety.CategorySeverity{
		{Category: "Hate", Severity: 0},
		{Category: "Violence", Severity: 6},
	}}, nil)

	svc := NewQueryService(emb, &mockIndex{}, &mockCompleter{}, sc, testRAGConfig(), config.ContentSafetyConfig{SeverityThreshold: 4})
	res, err := svc.Query(context.Background(), "bad question", 5)
	assert.ErrorIs(t, err, ErrQuestionRejected)
	assert.Contains(t, err.Error(), "Violence=6")
	assert.Nil(t, res)
	emb.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestQuery_SafetyPassAndFailure(t *testing.T) {
	t.Run("below threshold passes", func(t *testing.T) {
		sc := &mockSafety{}
		sc.On("AnalyzeText", mock.Anything, mock.Anything).Return(&safety.Analysis{Categories: []safety.CategorySeverity{{Category: "Hate", Severity: 2}}}, nil)
		emb := &mockEmbedder{}
		emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1), nil)
		idx := &mockIndex{}
		idx.On("Search", mock.Anything, mock.Anything, mock.Anything).Return([]model.SearchHit{}, nil)

		svc := NewQueryService(emb, idx, &mockCompleter{}, sc, testRAGConfig(), config.ContentSafetyConfig{SeverityThreshold: 4})
		res, err := svc.Query(context.Background(), "fine", 5)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoContext, res.Outcome)
	})

	t.Run("service failure degrades", func(t *testing.T) {
		sc := &mockSafety{}
		sc.On("AnalyzeText", mock.Anything, mock.Anything).Return(nil, errors.New("503"))

		svc := NewQueryService(&mockEmbedder{}, &mockIndex{}, &mockCompleter{}, sc, testRAGConfig(), config.ContentSafetyConfig{SeverityThreshold: 4})
		res, err := svc.Query(context.Background(), "fine", 5)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDegraded, res.Outcome)
		assert.Contains(t, res.Sources[0], "503")
	})
}
