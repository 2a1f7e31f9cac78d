// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// MaxAttempts 是单个任务的最大处理次数，达到后提交 offset 终止重试。
const MaxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete ingestion service.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// AttemptCounter 统计任务失败次数，由 Redis 实现。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Clear(ctx context.Context, key string) error
}

// Producer 发送入库任务到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BrokerList()...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Infof("[Kafka] 生产者初始化成功, topic: %s", cfg.Topic)
	return &Producer{writer: w}
}

// PublishIngestTask 发送一个入库任务，以 RunID 作为消息 key。
func (p *Producer) PublishIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.RunID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费入库任务。失败的任务在进程内重试，达到 MaxAttempts 后提交 offset 放弃。
// kafka-go 的 FetchMessage 不会重投未提交的消息，所以重试不能依赖 Kafka。
type Consumer struct {
	reader    messageReader
	processor TaskProcessor
	attempts  AttemptCounter
	topic     string
	backoff   time.Duration
}

// NewConsumer 创建一个消费者。attempts 为 nil 时失败次数只在进程内统计。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.BrokerList(),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, attempts: attempts, topic: cfg.Topic, backoff: defaultBackoff}
}

const defaultBackoff = 2 * time.Second

// Run 阻塞消费直到 ctx 取消或读取失败。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", c.topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("[Kafka] 关闭消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("[Kafka] 消费者已停止")
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		if !c.handle(ctx, m) {
			// 只有 ctx 取消时才不提交，未提交的消息在重启后重新消费
			log.Info("[Kafka] 消费者已停止")
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("[Kafka] 提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handle 处理单条消息直到成功或放弃，返回是否应提交 offset。
// 只有 ctx 在重试等待中被取消时返回 false。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	log.Infof("[Kafka] 收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.RunID == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("[Kafka] 无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return true
	}

	var local int64
	for {
		log.Infof("[Kafka] 开始处理入库任务: RunID=%s", task.RunID)
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("[Kafka] 入库任务处理成功: RunID=%s", task.RunID)
			if c.attempts != nil {
				_ = c.attempts.Clear(ctx, task.AttemptsKey())
			}
			return true
		}
		log.Errorf("[Kafka] 处理入库任务失败: RunID=%s, Error: %v", task.RunID, err)

		local++
		attempts := c.countFailure(ctx, task, local)
		if attempts >= MaxAttempts {
			log.Errorf("[Kafka] 入库任务多次失败(>=%d)，提交 offset 终止重试: RunID=%s", MaxAttempts, task.RunID)
			if c.attempts != nil {
				_ = c.attempts.Clear(ctx, task.AttemptsKey())
			}
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff * time.Duration(attempts)):
		}
	}
}

// countFailure 返回任务累计失败次数。Redis 计数跨进程重启保留，
// 不可用时退回到本进程内的计数。
func (c *Consumer) countFailure(ctx context.Context, task tasks.IngestTask, local int64) int64 {
	if c.attempts == nil {
		return local
	}
	n, err := c.attempts.Incr(ctx, task.AttemptsKey())
	if err != nil {
		log.Errorf("[Kafka] 记录失败次数失败: %v", err)
		return local
	}
	return max(n, local)
}
