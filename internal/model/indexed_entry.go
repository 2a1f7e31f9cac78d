package model

import "time"

// DefaultCategory 是写入索引时使用的默认分类标签，核心流程不读取它。
const DefaultCategory = "default"

// IndexedEntry 是向量索引中持久化的最小单元。
// 文本与向量总是一起写入；条目创建后不会被原地更新。
type IndexedEntry struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Vector     []float32 `json:"content_vector"`
	Category   string    `json:"category"`
	Source     string    `json:"source"`      // 来源文档名，仅作回溯
	ChunkIndex int       `json:"chunk_index"` // 在来源文档中的顺序
	RunID      string    `json:"run_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchHit 是一次相似度检索返回的单条结果，只携带检索时选择的字段。
type SearchHit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}
