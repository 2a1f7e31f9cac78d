// Package safety 提供了 Azure AI Content Safety 文本审查接口的客户端。
package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cogni-rag-go/internal/config"
)

// CategorySeverity 是单个危害类别的严重程度。
type CategorySeverity struct {
	Category string `json:"category"`
	Severity int    `json:"severity"`
}

// Analysis 是一次文本审查的结果。
type Analysis struct {
	Categories []CategorySeverity `json:"categoriesAnalysis"`
}

// Flagged 返回严重程度达到阈值的类别；为空表示通过。
func (a *Analysis) Flagged(threshold int) []CategorySeverity {
	var out []CategorySeverity
	for _, c := range a.Categories {
		if c.Severity >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// Client 定义了内容安全审查客户端的接口。
type Client interface {
	AnalyzeText(ctx context.Context, text string) (*Analysis, error)
}

type restClient struct {
	cfg    config.ContentSafetyConfig
	client *http.Client
}

// NewClient 创建一个新的内容安全客户端。
func NewClient(cfg config.ContentSafetyConfig) Client {
	return &restClient{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}}
}

type analyzeRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	OutputType string   `json:"outputType"`
}

// AnalyzeText 调用 text:analyze 接口。
func (c *restClient) AnalyzeText(ctx context.Context, text string) (*Analysis, error) {
	body, err := json.Marshal(analyzeRequest{
		Text:       text,
		Categories: []string{"Hate", "SelfHarm", "Sexual", "Violence"},
		OutputType: "FourSeverityLevels",
	})
	if err != nil {
		return nil, fmt.Errorf("序列化审查请求失败: %w", err)
	}

	endpoint := fmt.Sprintf("%s/contentsafety/text:analyze?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), url.QueryEscape(c.cfg.APIVersion))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建审查请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用内容安全服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("内容安全服务返回错误 [%d]: %s", resp.StatusCode, string(b))
	}

	var analysis Analysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return nil, fmt.Errorf("解析审查结果失败: %w", err)
	}
	return &analysis, nil
}
