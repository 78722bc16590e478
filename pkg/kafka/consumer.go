// 文件: pkg/kafka/consumer.go
// Kafka 消费者组
//
// 处理失败只记录日志，offset 照常提交，不阻塞后续消息

package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string // Kafka broker 地址列表
	GroupID       string   // 消费者组 ID
	Topics        []string // 订阅的 topics
	OffsetInitial int64    // 初始 offset: -1=newest, -2=oldest
	AutoCommit    bool     // 是否自动提交 offset
}

// DefaultConsumerConfig 默认配置
func DefaultConsumerConfig(brokers []string, groupID string, topics []string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        topics,
		OffsetInitial: sarama.OffsetNewest,
		AutoCommit:    true,
	}
}

// Record 收到的一条消息
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// MessageHandler 消息处理函数，ctx 在消费者停止或分区重平衡时取消
type MessageHandler func(ctx context.Context, rec Record) error

// Consumer Kafka 消费者
type Consumer struct {
	client  sarama.ConsumerGroup
	config  ConsumerConfig
	handler MessageHandler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:  client,
		config:  cfg,
		handler: handler,
		logger:  logger.Named("kafka.consumer"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 启动消费 (后台 goroutine，重平衡后自动重新加入)
func (c *Consumer) Start() {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		h := &groupHandler{handler: c.handler, logger: c.logger}
		for {
			err := c.client.Consume(c.ctx, c.config.Topics, h)
			if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
				c.logger.Error("consume failed", zap.Error(err))
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.client.Errors() {
			c.logger.Warn("consumer group error", zap.Error(err))
		}
	}()
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	err := c.client.Close()
	c.wg.Wait()
	return err
}

// =============================================================================
// sarama.ConsumerGroupHandler 实现
// =============================================================================

type groupHandler struct {
	handler MessageHandler
	logger  *zap.Logger
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			rec := Record{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
			}
			if err := h.handler(session.Context(), rec); err != nil {
				h.logger.Warn("handle failed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
