// Package es 提供了基于 Elasticsearch dense_vector 的向量索引实现。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/model"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/vectorindex"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	fieldContent = "content"
	fieldVector  = "content_vector"
	fieldSource  = "source"
)

// Index 是 vectorindex.Index 的 Elasticsearch 实现。
type Index struct {
	client    *elasticsearch.Client
	name      string
	dimension int
}

var _ vectorindex.Index = (*Index)(nil)

// NewIndex 初始化 Elasticsearch 客户端并确保索引存在。
func NewIndex(ctx context.Context, esCfg config.ElasticsearchConfig, dimension int) (*Index, error) {
	cfg := elasticsearch.Config{
		Addresses: esCfg.AddressList(),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: newTransport(esCfg),
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}
	idx := &Index{client: client, name: esCfg.IndexName, dimension: dimension}
	if err := idx.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// newTransport 默认校验证书，配置 insecure_skip_verify 时才跳过。
func newTransport(esCfg config.ElasticsearchConfig) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if esCfg.InsecureSkipVerify {
		log.Warnf("[ES] 已关闭 TLS 证书校验, 仅用于开发环境")
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

// ensureIndex 检查索引是否存在，如果不存在则创建它
func (i *Index) ensureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.name}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[ES] 检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", i.name)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = i.client.Indices.Create(
		i.name,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(i.mapping())),
	)
	if err != nil {
		log.Errorf("[ES] 创建索引 '%s' 失败: %v", i.name, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", i.name, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("[ES] 索引 '%s' 创建成功, 维度: %d", i.name, i.dimension)
	return nil
}

func (i *Index) mapping() string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"content": { "type": "text" },
				"content_vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"category": { "type": "keyword" },
				"source": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"run_id": { "type": "keyword" },
				"created_at": { "type": "date" }
			}
		}
	}`, i.dimension)
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 通过一次 _bulk 请求写入整批条目。
func (i *Index) Upsert(ctx context.Context, entries []model.IndexedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range entries {
		if i.dimension > 0 && len(e.Vector) != i.dimension {
			return fmt.Errorf("%w: entry %s has %d, index expects %d", vectorindex.ErrDimensionMismatch, e.ID, len(e.Vector), i.dimension)
		}
		meta := map[string]any{"index": map[string]any{"_index": i.name, "_id": e.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   i.name,
		Body:    &body,
		Refresh: "wait_for",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] 批量写入返回错误, status: %s, body: %s", res.Status(), string(b))
		return fmt.Errorf("elasticsearch bulk returned an error: %s", res.Status())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, result := range item {
				if result.Error != nil {
					return fmt.Errorf("elasticsearch bulk item %s failed: %s: %s", result.ID, result.Error.Type, result.Error.Reason)
				}
			}
		}
		return errors.New("elasticsearch bulk reported errors")
	}
	log.Infof("[ES] 批量写入 %d 条到索引 '%s'", len(entries), i.name)
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Content string `json:"content"`
				Source  string `json:"source"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在向量字段上执行 kNN 检索，只返回文本内容与来源字段。
func (i *Index) Search(ctx context.Context, vector []float32, topK int) ([]model.SearchHit, error) {
	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	query := map[string]any{
		"knn": map[string]any{
			"field":          fieldVector,
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
		},
		"_source": []string{fieldContent, fieldSource},
		"size":    topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.name),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] 检索返回错误, status: %s, body: %s", res.Status(), string(b))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	hits := make([]model.SearchHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, model.SearchHit{ID: h.ID, Content: h.Source.Content, Source: h.Source.Source, Score: h.Score})
	}
	return hits, nil
}

// Count 返回索引中的条目数。
func (i *Index) Count(ctx context.Context) (int64, error) {
	res, err := i.client.Count(i.client.Count.WithContext(ctx), i.client.Count.WithIndex(i.name))
	if err != nil {
		return 0, fmt.Errorf("elasticsearch count failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("elasticsearch count returned an error: %s", res.Status())
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return out.Count, nil
}

// Reset 删除并重建索引。
func (i *Index) Reset(ctx context.Context) error {
	res, err := i.client.Indices.Delete(
		[]string{i.name},
		i.client.Indices.Delete.WithContext(ctx),
		i.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("删除索引失败: %w", err)
	}
	res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("删除索引时 Elasticsearch 返回错误: %s", res.Status())
	}
	log.Infof("[ES] 索引 '%s' 已删除, 正在重建", i.name)
	return i.ensureIndex(ctx)
}

// Close 对 HTTP 客户端无需操作。
func (i *Index) Close() error {
	return nil
}
