// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/pkg/log"

	"golang.org/x/time/rate"
)

// ErrCountMismatch is returned when the provider answers with a different number of vectors than inputs.
var ErrCountMismatch = errors.New("embedding count does not match input count")

// Embedded pairs an input text with its vector. Position i of a result always
// corresponds to position i of the request.
type Embedded struct {
	Text   string
	Vector []float32
}

// Client defines the interface for an embedding client.
type Client interface {
	// Embed converts an ordered batch of texts into (text, vector) pairs of the same length and order.
	Embed(ctx context.Context, texts []string) ([]Embedded, error)
}

type restClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new embedding client for an Azure OpenAI or OpenAI-compatible endpoint.
func NewClient(cfg config.EmbeddingConfig) Client {
	c := &restClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

type embeddingRequest struct {
	Model      string   `json:"model,omitempty"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *restClient) endpoint() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.Provider == "azure" {
		return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			base, url.PathEscape(c.cfg.Deployment), url.QueryEscape(c.cfg.APIVersion))
	}
	return base + "/embeddings"
}

// Embed calls the embeddings API once for the whole batch.
func (c *restClient) Embed(ctx context.Context, texts []string) ([]Embedded, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter: %w", err)
		}
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))

	reqBody := embeddingRequest{Input: texts, Dimensions: c.cfg.Dimensions}
	if c.cfg.Provider != "azure" {
		reqBody.Model = c.cfg.Model
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Provider == "azure" {
		req.Header.Set("api-key", c.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("embedding api returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d, received %d", ErrCountMismatch, len(texts), len(embeddingResp.Data))
	}

	// 服务端不保证 data 的顺序，按 index 还原。
	sort.SliceStable(embeddingResp.Data, func(i, j int) bool {
		return embeddingResp.Data[i].Index < embeddingResp.Data[j].Index
	})
	out := make([]Embedded, len(texts))
	for i, d := range embeddingResp.Data {
		if d.Index != i {
			return nil, fmt.Errorf("embedding response index %d out of range for batch of %d", d.Index, len(texts))
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("received empty embedding at index %d", i)
		}
		out[i] = Embedded{Text: texts[i], Vector: d.Embedding}
	}

	log.Infof("[EmbeddingClient] 成功获取向量, 数量: %d, 维度: %d", len(out), len(out[0].Vector))
	return out, nil
}
