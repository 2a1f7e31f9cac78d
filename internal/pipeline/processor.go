// Package pipeline 定义了文档入库的核心流程：读取、分块、向量化、写入索引。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/model"
	"cogni-rag-go/pkg/embedding"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/storage"
	"cogni-rag-go/pkg/vectorindex"

	"github.com/google/uuid"
)

// ErrNoDocuments 表示容器中没有可入库的文档。
var ErrNoDocuments = errors.New("no ingestible documents found")

// TextExtractor 将二进制文档转换为纯文本，由 Tika 客户端实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// DocumentResult 记录单个已提交文档的分块数。
type DocumentResult struct {
	Name   string
	Chunks int
}

// Report 汇总一次入库运行。失败时只包含已经提交到索引的文档。
type Report struct {
	RunID     string
	Chunks    int
	Documents []DocumentResult
}

// Processor 封装了入库流程的所有依赖。
type Processor struct {
	store      storage.ObjectStore
	extractor  TextExtractor
	embedder   embedding.Client
	index      vectorindex.Index
	chunkSize  int
	textExt    map[string]bool
	extractExt map[string]bool
	now        func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。extractor 为 nil 时只处理纯文本扩展名。
func NewProcessor(
	store storage.ObjectStore,
	extractor TextExtractor,
	embedder embedding.Client,
	index vectorindex.Index,
	ragCfg config.RAGConfig,
) *Processor {
	chunkSize := ragCfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	p := &Processor{
		store:      store,
		extractor:  extractor,
		embedder:   embedder,
		index:      index,
		chunkSize:  chunkSize,
		textExt:    ExtensionSet(ragCfg.Extensions),
		extractExt: map[string]bool{},
		now:        time.Now,
	}
	if extractor != nil {
		p.extractExt = ExtensionSet(ragCfg.ExtractExtensions)
	}
	return p
}

// ExtensionSet 把配置的扩展名规范为小写且带前导点的集合，如 "TXT" 与 ".txt" 都得到 ".txt"。
func ExtensionSet(exts []string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		m[e] = true
	}
	return m
}

// Qualifies 报告对象名是否具有可入库的扩展名。
func (p *Processor) Qualifies(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return p.textExt[ext] || p.extractExt[ext]
}

// Ingest 以新生成的运行 ID 执行一次完整入库，返回索引的分块总数。
func (p *Processor) Ingest(ctx context.Context) (*Report, error) {
	return p.IngestRun(ctx, uuid.NewString())
}

// IngestRun 按存储的枚举顺序逐个处理文档。任一文档失败即终止本次运行，
// 已提交的文档保留在索引中，返回的 Report 只包含这些文档。
func (p *Processor) IngestRun(ctx context.Context, runID string) (*Report, error) {
	return p.ResumeRun(ctx, runID, nil)
}

// ResumeRun 与 IngestRun 相同，但跳过 committed 中已在本运行提交过的文档。
// 失败的运行被重新执行时用它避免重复写入索引。
func (p *Processor) ResumeRun(ctx context.Context, runID string, committed map[string]bool) (*Report, error) {
	report := &Report{RunID: runID}
	log.Infof("[Processor] 开始入库, RunID: %s, 已提交文档: %d", runID, len(committed))

	objects, err := p.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("枚举文档失败: %w", err)
	}
	var docs []storage.ObjectInfo
	for _, obj := range objects {
		if p.Qualifies(obj.Name) {
			docs = append(docs, obj)
		}
	}
	log.Infof("[Processor] 共 %d 个对象, 其中 %d 个可入库", len(objects), len(docs))
	if len(docs) == 0 {
		return report, ErrNoDocuments
	}

	dimension := 0
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if committed[doc.Name] {
			log.Infof("[Processor] 文档 '%s' 已在本运行中提交, 跳过", doc.Name)
			continue
		}
		log.Infof("[Processor] 正在处理文档 %d/%d: %s", i+1, len(docs), doc.Name)
		n, err := p.ingestDocument(ctx, runID, doc.Name, &dimension)
		if err != nil {
			log.Errorf("[Processor] 文档 '%s' 入库失败, 运行中止: %v", doc.Name, err)
			return report, fmt.Errorf("文档 %s 入库失败: %w", doc.Name, err)
		}
		if n == 0 {
			log.Warnf("[Processor] 文档 '%s' 未生成任何分块, 已跳过", doc.Name)
			continue
		}
		report.Chunks += n
		report.Documents = append(report.Documents, DocumentResult{Name: doc.Name, Chunks: n})
	}

	log.Infof("[Processor] 入库完成, RunID: %s, 文档: %d, 分块: %d", runID, len(report.Documents), report.Chunks)
	return report, nil
}

func (p *Processor) ingestDocument(ctx context.Context, runID, name string, dimension *int) (int, error) {
	text, err := p.readText(ctx, name)
	if err != nil {
		return 0, err
	}

	chunks := Chunk(text, p.chunkSize)
	if len(chunks) == 0 {
		return 0, nil
	}
	log.Debugf("[Processor] 文档 '%s' 分块完成, 共 %d 个分块", name, len(chunks))

	embedded, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("向量化失败: %w", err)
	}
	if len(embedded) != len(chunks) {
		return 0, fmt.Errorf("%w: %d texts, %d vectors", embedding.ErrCountMismatch, len(chunks), len(embedded))
	}

	createdAt := p.now().UTC()
	entries := make([]model.IndexedEntry, 0, len(embedded))
	for i, e := range embedded {
		if *dimension == 0 {
			*dimension = len(e.Vector)
		}
		if len(e.Vector) != *dimension {
			return 0, fmt.Errorf("%w: chunk %d has %d, run started with %d", vectorindex.ErrDimensionMismatch, i, len(e.Vector), *dimension)
		}
		entries = append(entries, model.IndexedEntry{
			ID:         uuid.NewString(),
			Content:    e.Text,
			Vector:     e.Vector,
			Category:   model.DefaultCategory,
			Source:     name,
			ChunkIndex: i,
			RunID:      runID,
			CreatedAt:  createdAt,
		})
	}

	if err := p.index.Upsert(ctx, entries); err != nil {
		return 0, fmt.Errorf("写入向量索引失败: %w", err)
	}
	return len(entries), nil
}

func (p *Processor) readText(ctx context.Context, name string) (string, error) {
	data, err := p.store.Read(ctx, name)
	if err != nil {
		return "", fmt.Errorf("读取文档失败: %w", err)
	}
	ext := strings.ToLower(path.Ext(name))
	if p.textExt[ext] {
		return string(data), nil
	}

	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), name)
	if err != nil {
		return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	return text, nil
}
