// Package notify 发布回测完成/失败事件
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"quant/backtest"
)

const (
	EventCompleted = "backtest.completed"
	EventFailed    = "backtest.failed"
)

// Event 任务结束事件
type Event struct {
	Type     string            `json:"type"`
	TaskID   string            `json:"task_id"`
	Kind     string            `json:"kind"`
	Symbol   string            `json:"symbol,omitempty"`
	Strategy string            `json:"strategy,omitempty"`
	Metrics  *backtest.Metrics `json:"metrics,omitempty"`
	Error    string            `json:"error,omitempty"`
	Time     time.Time         `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier 只写日志
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("type", ev.Type),
		zap.String("task_id", ev.TaskID),
		zap.String("kind", ev.Kind),
		zap.String("symbol", ev.Symbol),
	}
	if ev.Metrics != nil {
		fields = append(fields,
			zap.Float64("total_return", ev.Metrics.TotalReturn),
			zap.Float64("sharpe", ev.Metrics.SharpeRatio),
		)
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}
	n.Logger.Info("backtest event", fields...)
	return nil
}

// Multi 依次通知，汇总错误
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	RetryBackoff time.Duration
}

// KafkaNotifier 以任务ID为key发送JSON事件
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaNotifier 创建 Kafka 生产者
func NewKafkaNotifier(cfg KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = "quant.backtest.events"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            cfg.MaxAttempts,
		WriteBackoffMin:        cfg.RetryBackoff,
		WriteBackoffMax:        cfg.RetryBackoff * 10,
	}
	logger.Info("kafka notifier created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return &KafkaNotifier{writer: w, topic: cfg.Topic, logger: logger}, nil
}

func (k *KafkaNotifier) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.TaskID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Error("failed to send kafka message",
			zap.String("topic", k.topic),
			zap.String("task_id", ev.TaskID),
			zap.Error(err),
		)
		return err
	}
	k.logger.Debug("kafka message sent", zap.String("topic", k.topic), zap.String("task_id", ev.TaskID))
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
