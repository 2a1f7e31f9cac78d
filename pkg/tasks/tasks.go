// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IngestTask represents an asynchronous ingestion run. The run record is
// created before the task is published, so RunID always refers to an existing row.
type IngestTask struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// AttemptsKey is the Redis key that counts failed deliveries of a task.
func (t IngestTask) AttemptsKey() string {
	return "kafka:attempts:" + t.RunID
}
