// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/model"
	"cogni-rag-go/internal/pipeline"
	"cogni-rag-go/pkg/embedding"
	"cogni-rag-go/pkg/llm"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/safety"
	"cogni-rag-go/pkg/vectorindex"
)

// MaxTopK 是单次检索允许的最大结果数。
const MaxTopK = 50

var (
	// ErrEmptyQuestion 表示问题为空或只包含空白。
	ErrEmptyQuestion = errors.New("question must not be empty")
	// ErrQuestionRejected 表示问题未通过内容安全审查。
	ErrQuestionRejected = errors.New("question rejected by content safety")
)

// Outcome 标识一次问答的结果类型。
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeNoContext Outcome = "no_context"
	OutcomeDegraded  Outcome = "degraded"
)

// QueryResult 是一次问答的结果。Degraded 时 Sources 只有一项，即失败原因。
type QueryResult struct {
	Outcome Outcome
	Answer  string
	Sources []string
	Reason  string
}

// Response 转换为对外返回的 DTO，Sources 为空时输出 []。
func (r *QueryResult) Response() model.QueryResponseDTO {
	sources := r.Sources
	if sources == nil {
		sources = []string{}
	}
	return model.QueryResponseDTO{Outcome: string(r.Outcome), Answer: r.Answer, Sources: sources}
}

// QueryService 接口定义了基于检索增强生成的问答操作。
type QueryService interface {
	Query(ctx context.Context, question string, topK int) (*QueryResult, error)
}

type queryService struct {
	embedder  embedding.Client
	index     vectorindex.Index
	completer llm.Client
	safety    safety.Client
	cfg       config.RAGConfig
	threshold int
}

// NewQueryService 创建一个新的 QueryService 实例。safetyClient 为 nil 时跳过内容审查。
func NewQueryService(
	embedder embedding.Client,
	index vectorindex.Index,
	completer llm.Client,
	safetyClient safety.Client,
	ragCfg config.RAGConfig,
	safetyCfg config.ContentSafetyConfig,
) QueryService {
	return &queryService{
		embedder:  embedder,
		index:     index,
		completer: completer,
		safety:    safetyClient,
		cfg:       ragCfg,
		threshold: safetyCfg.SeverityThreshold,
	}
}

// Query 检索与问题最相关的分块并据此生成回答。
// 只有输入校验失败和内容审查拒绝会以 error 返回，协作方故障一律降级为 Degraded 结果。
func (s *queryService) Query(ctx context.Context, question string, topK int) (*QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	topK = s.clampTopK(topK)
	log.Infof("[QueryService] 开始问答, question: '%s', topK: %d", question, topK)

	if s.safety != nil {
		analysis, err := s.safety.AnalyzeText(ctx, question)
		if err != nil {
			return s.degraded(fmt.Errorf("content safety check failed: %w", err)), nil
		}
		if flagged := analysis.Flagged(s.threshold); len(flagged) > 0 {
			log.Warnf("[QueryService] 问题未通过内容审查: %v", flagged)
			return nil, fmt.Errorf("%w: %s", ErrQuestionRejected, describeFlagged(flagged))
		}
	}

	sources, err := s.retrieve(ctx, question, topK)
	if err != nil {
		return s.degraded(err), nil
	}
	if len(sources) == 0 {
		log.Infof("[QueryService] 未检索到相关内容, 跳过生成")
		return &QueryResult{Outcome: OutcomeNoContext, Answer: s.cfg.Prompt.NoResultText, Sources: []string{}}, nil
	}

	contextBlock := strings.Join(sources, s.cfg.Prompt.ContextSeparator)
	messages := []llm.Message{
		{Role: "system", Content: fmt.Sprintf(s.cfg.Prompt.SystemTemplate, contextBlock)},
		{Role: "user", Content: question},
	}
	answer, err := s.completer.Complete(ctx, messages, nil)
	if err != nil {
		return s.degraded(fmt.Errorf("completion failed: %w", err)), nil
	}

	log.Infof("[QueryService] 问答完成, 引用 %d 个分块", len(sources))
	return &QueryResult{
		Outcome: OutcomeAnswered,
		Answer:  pipeline.NormalizeLineEndings(answer),
		Sources: sources,
	}, nil
}

// retrieve 增强问题、向量化并检索，返回按相关度排序的非空分块文本。
func (s *queryService) retrieve(ctx context.Context, question string, topK int) ([]string, error) {
	enriched := fmt.Sprintf(s.cfg.Prompt.QueryTemplate, question)
	embedded, err := s.embedder.Embed(ctx, []string{enriched})
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	if len(embedded) != 1 {
		return nil, fmt.Errorf("%w: 1 text, %d vectors", embedding.ErrCountMismatch, len(embedded))
	}

	hits, err := s.index.Search(ctx, embedded[0].Vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	sources := make([]string, 0, len(hits))
	for _, h := range hits {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		sources = append(sources, pipeline.NormalizeLineEndings(h.Content))
	}
	return sources, nil
}

func (s *queryService) clampTopK(topK int) int {
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if topK <= 0 {
		topK = 5
	}
	return min(topK, MaxTopK)
}

func (s *queryService) degraded(err error) *QueryResult {
	log.Errorf("[QueryService] 问答降级: %v", err)
	return &QueryResult{
		Outcome: OutcomeDegraded,
		Answer:  s.cfg.Prompt.ErrorText,
		Sources: []string{err.Error()},
		Reason:  err.Error(),
	}
}

func describeFlagged(flagged []safety.CategorySeverity) string {
	parts := make([]string, len(flagged))
	for i, f := range flagged {
		parts[i] = fmt.Sprintf("%s=%d", f.Category, f.Severity)
	}
	return strings.Join(parts, ", ")
}
