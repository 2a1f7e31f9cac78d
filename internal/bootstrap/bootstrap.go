// Package bootstrap 根据配置构造服务端和命令行共用的组件。
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/pipeline"
	"cogni-rag-go/internal/repository"
	"cogni-rag-go/internal/service"
	"cogni-rag-go/pkg/database"
	"cogni-rag-go/pkg/embedding"
	"cogni-rag-go/pkg/es"
	"cogni-rag-go/pkg/kafka"
	"cogni-rag-go/pkg/llm"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/pgvector"
	"cogni-rag-go/pkg/safety"
	"cogni-rag-go/pkg/storage"
	"cogni-rag-go/pkg/tika"
	"cogni-rag-go/pkg/token"
	"cogni-rag-go/pkg/vectorindex"
)

// Options 控制需要启动的可选组件。
type Options struct {
	// Consumer 为 true 且配置了 Kafka 时创建消费者和 Redis 失败计数。
	Consumer bool
}

// App 持有所有已连接的组件。
type App struct {
	Config          *config.Config
	Store           storage.ObjectStore
	Index           vectorindex.Index
	Processor       *pipeline.Processor
	IngestService   service.IngestService
	QueryService    service.QueryService
	IndexService    service.IndexService
	DocumentService service.DocumentService
	JWT             *token.JWTManager
	// Consumer 在未启用 Kafka 或 Options.Consumer 为 false 时为 nil。
	Consumer *kafka.Consumer

	closers []func() error
}

// NewIndex 按 vector_index.backend 创建向量索引。
func NewIndex(ctx context.Context, cfg *config.Config) (vectorindex.Index, error) {
	dim := cfg.Embedding.Dimensions
	switch cfg.VectorIndex.Backend {
	case config.BackendElasticsearch:
		return es.NewIndex(ctx, cfg.VectorIndex.Elasticsearch, dim)
	case config.BackendPGVector:
		return pgvector.NewStore(ctx, cfg.VectorIndex.PGVector, dim)
	case config.BackendMemory:
		log.Warnf("[Bootstrap] 使用内存向量索引, 进程退出后数据丢失")
		return vectorindex.NewMemory(dim), nil
	default:
		return nil, fmt.Errorf("unknown vector index backend %q", cfg.VectorIndex.Backend)
	}
}

// New 连接所有外部依赖并组装服务。任一步失败时已打开的连接会被关闭。
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	store, err := storage.NewMinioStore(ctx, cfg.MinIO)
	if err != nil {
		return nil, err
	}
	app.Store = store

	index, err := NewIndex(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化向量索引失败: %w", err)
	}
	app.Index = index
	app.closers = append(app.closers, index.Close)

	// Tika 与内容安全都是可选的，未配置时保持接口为 nil
	var extractor pipeline.TextExtractor
	if tc := tika.NewClient(cfg.Tika); tc != nil {
		extractor = tc
	}
	var safetyClient safety.Client
	if cfg.ContentSafety.Enabled() {
		safetyClient = safety.NewClient(cfg.ContentSafety)
	}

	embedder := embedding.NewClient(cfg.Embedding)
	completer := llm.NewClient(cfg.LLM)

	runs, err := app.newRunRepository(cfg)
	if err != nil {
		return nil, err
	}

	var publisher service.TaskPublisher
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka)
		app.closers = append(app.closers, producer.Close)
		publisher = producer
	}

	app.Processor = pipeline.NewProcessor(store, extractor, embedder, index, cfg.RAG)
	app.IngestService = service.NewIngestService(app.Processor, runs, publisher)
	app.QueryService = service.NewQueryService(embedder, index, completer, safetyClient, cfg.RAG, cfg.ContentSafety)
	app.IndexService = service.NewIndexService(index, cfg.VectorIndex.Backend)
	app.DocumentService = service.NewDocumentService(store, extractor, cfg.RAG.Extensions)
	app.JWT = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	if opts.Consumer && cfg.Kafka.Enabled() {
		var attempts kafka.AttemptCounter
		if cfg.Database.Redis.Addr != "" {
			rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
			if err != nil {
				return nil, err
			}
			app.closers = append(app.closers, rdb.Close)
			attempts = database.NewAttemptCounter(rdb)
		} else {
			log.Warnf("[Bootstrap] 未配置 Redis, 入库任务失败次数只在进程内统计")
		}
		app.Consumer = kafka.NewConsumer(cfg.Kafka, app.IngestService, attempts)
	}

	return app, nil
}

func (a *App) newRunRepository(cfg *config.Config) (repository.IngestRunRepository, error) {
	if cfg.Database.MySQL.DSN == "" {
		log.Warnf("[Bootstrap] 未配置 MySQL, 入库台账仅保存在内存中")
		return repository.NewMemoryIngestRunRepository(), nil
	}
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	return repository.NewIngestRunRepository(db), nil
}

// Close 按创建的逆序关闭所有连接。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
