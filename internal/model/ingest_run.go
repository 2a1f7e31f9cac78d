// Package model 定义了与数据库表和索引文档对应的 Go 结构体。
package model

import "time"

// IngestRun 的状态取值。
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// IngestRun 对应 ingest_runs 表，记录一次入库运行的台账。
type IngestRun struct {
	ID            string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	Trigger       string             `gorm:"type:varchar(64);not null" json:"trigger"` // api | kafka | cli
	Status        string             `gorm:"type:varchar(16);not null;index" json:"status"`
	DocumentCount int                `gorm:"not null;default:0" json:"documentCount"`
	ChunkCount    int                `gorm:"not null;default:0" json:"chunkCount"`
	Error         string             `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"createdAt"`
	StartedAt     *time.Time         `json:"startedAt,omitempty"`
	FinishedAt    *time.Time         `json:"finishedAt,omitempty"`
	Documents     []IngestedDocument `gorm:"foreignKey:RunID" json:"documents,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (IngestRun) TableName() string {
	return "ingest_runs"
}

// IngestedDocument 对应 ingested_documents 表，记录某次运行中已提交到索引的文档。
type IngestedDocument struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID      string    `gorm:"type:varchar(36);not null;index" json:"runId"`
	ObjectName string    `gorm:"type:varchar(512);not null" json:"objectName"`
	ChunkCount int       `gorm:"not null" json:"chunkCount"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (IngestedDocument) TableName() string {
	return "ingested_documents"
}
