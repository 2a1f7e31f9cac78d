// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 启动时构造一次，之后以值或只读指针的形式显式传入各组件。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	VectorIndex   VectorIndexConfig   `mapstructure:"vector_index"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	ContentSafety ContentSafetyConfig `mapstructure:"content_safety"`
	RAG           RAGConfig           `mapstructure:"rag"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。为空时不记录入库运行台账。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空表示禁用异步入库。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// Enabled 报告是否配置了 Kafka。
func (c KafkaConfig) Enabled() bool { return c.Brokers != "" }

// BrokerList 将逗号分隔的 broker 地址拆分为列表。
func (c KafkaConfig) BrokerList() []string {
	return splitList(c.Brokers)
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。BucketName 即文档容器。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

// VectorIndexConfig 选择向量索引后端。
type VectorIndexConfig struct {
	Backend       string              `mapstructure:"backend"` // elasticsearch | pgvector | memory
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	PGVector      PGVectorConfig      `mapstructure:"pgvector"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
	// InsecureSkipVerify 跳过 TLS 证书校验，只用于自签名证书的开发环境
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// AddressList 将逗号分隔的地址拆分为列表。
func (c ElasticsearchConfig) AddressList() []string {
	return splitList(c.Addresses)
}

// PGVectorConfig 存储 pgvector 相关的配置。
type PGVectorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider          string  `mapstructure:"provider"` // azure | openai
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Deployment        string  `mapstructure:"deployment"`
	APIVersion        string  `mapstructure:"api_version"`
	Dimensions        int     `mapstructure:"dimensions"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Deployment string              `mapstructure:"deployment"`
	APIVersion string              `mapstructure:"api_version"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ContentSafetyConfig 存储内容安全服务的配置。Endpoint 为空表示不做问题审查。
type ContentSafetyConfig struct {
	Endpoint          string `mapstructure:"endpoint"`
	APIKey            string `mapstructure:"api_key"`
	APIVersion        string `mapstructure:"api_version"`
	SeverityThreshold int    `mapstructure:"severity_threshold"`
}

// Enabled 报告是否启用了内容安全审查。
func (c ContentSafetyConfig) Enabled() bool { return c.Endpoint != "" }

// RAGConfig 存储检索增强生成流程的参数。
type RAGConfig struct {
	ChunkSize         int             `mapstructure:"chunk_size"`
	TopK              int             `mapstructure:"top_k"`
	Extensions        []string        `mapstructure:"extensions"`
	ExtractExtensions []string        `mapstructure:"extract_extensions"`
	SeedDir           string          `mapstructure:"seed_dir"` // 启动时导入到容器的本地目录，为空则跳过
	Prompt            RAGPromptConfig `mapstructure:"prompt"`
}

// RAGPromptConfig 配置查询增强模板、系统提示与兜底文案。
type RAGPromptConfig struct {
	QueryTemplate    string `mapstructure:"query_template"`
	SystemTemplate   string `mapstructure:"system_template"`
	ContextSeparator string `mapstructure:"context_separator"`
	NoResultText     string `mapstructure:"no_result_text"`
	ErrorText        string `mapstructure:"error_text"`
}

const (
	BackendElasticsearch = "elasticsearch"
	BackendPGVector      = "pgvector"
	BackendMemory        = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "rag-ingest")
	v.SetDefault("kafka.group_id", "cogni-rag-go-consumer")
	v.SetDefault("tika.server_url", "")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "documents")
	v.SetDefault("minio.prefix", "")
	v.SetDefault("vector_index.backend", BackendElasticsearch)
	v.SetDefault("vector_index.elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("vector_index.elasticsearch.username", "")
	v.SetDefault("vector_index.elasticsearch.password", "")
	v.SetDefault("vector_index.elasticsearch.index_name", "company_docs")
	v.SetDefault("vector_index.elasticsearch.insecure_skip_verify", false)
	v.SetDefault("vector_index.pgvector.dsn", "")
	v.SetDefault("vector_index.pgvector.table", "indexed_entries")
	v.SetDefault("embedding.provider", "azure")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "text-embedding-3-large")
	v.SetDefault("embedding.deployment", "text-embedding-3-large")
	v.SetDefault("embedding.api_version", "2024-02-01")
	v.SetDefault("embedding.dimensions", 3072)
	v.SetDefault("embedding.requests_per_second", 0)
	v.SetDefault("embedding.burst", 1)
	v.SetDefault("llm.provider", "azure")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.deployment", "gpt-4o")
	v.SetDefault("llm.api_version", "2024-02-01")
	v.SetDefault("llm.generation.temperature", 0)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 0)
	v.SetDefault("content_safety.endpoint", "")
	v.SetDefault("content_safety.api_key", "")
	v.SetDefault("content_safety.api_version", "2023-10-01")
	v.SetDefault("content_safety.severity_threshold", 4)
	v.SetDefault("rag.chunk_size", 500)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.extensions", []string{".txt", ".md"})
	v.SetDefault("rag.extract_extensions", []string{".pdf", ".docx", ".doc", ".html", ".rtf", ".pptx"})
	v.SetDefault("rag.seed_dir", "")
	v.SetDefault("rag.prompt.query_template", "Answer based on company documentation: %s")
	v.SetDefault("rag.prompt.system_template", "You are a helpful assistant for company documentation. "+
		"Answer the user's question using only the context below. "+
		"If the context does not contain the answer, say so.\n\nContext:\n%s")
	v.SetDefault("rag.prompt.context_separator", "\n\n---\n\n")
	v.SetDefault("rag.prompt.no_result_text", "No relevant information was found in the documentation.")
	v.SetDefault("rag.prompt.error_text", "An error occurred while processing your question.")
}

// Load 从指定路径读取 YAML 配置，叠加 .env 与 RAG_ 前缀的环境变量。
// configPath 为空时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置中会导致未定义行为的取值。
func (c *Config) Validate() error {
	var errs []error
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk_size 必须为正数, 当前为 %d", c.RAG.ChunkSize))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top_k 必须为正数, 当前为 %d", c.RAG.TopK))
	}
	switch c.VectorIndex.Backend {
	case BackendElasticsearch, BackendPGVector, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("未知的 vector_index.backend: %q", c.VectorIndex.Backend))
	}
	if c.VectorIndex.Backend == BackendPGVector && c.VectorIndex.PGVector.DSN == "" {
		errs = append(errs, errors.New("vector_index.pgvector.dsn 不能为空"))
	}
	if !strings.Contains(c.RAG.Prompt.QueryTemplate, "%s") {
		errs = append(errs, errors.New("rag.prompt.query_template 必须包含 %s 占位符"))
	}
	if !strings.Contains(c.RAG.Prompt.SystemTemplate, "%s") {
		errs = append(errs, errors.New("rag.prompt.system_template 必须包含 %s 占位符"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
