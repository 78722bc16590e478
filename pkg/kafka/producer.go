// 文件: pkg/kafka/producer.go
// Kafka 生产者
//
// 异步发送，发送失败在后台 goroutine 中记录并回调 OnError。
// 消息类型通过 Message 接口解耦，报价事件等都实现该接口。

package kafka

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("kafka producer is closed")

// =============================================================================
// Message 接口
// =============================================================================

// Message 通用消息接口
type Message interface {
	Topic() string          // 目标 topic
	Key() string            // 分区 key (相同 key 保证顺序)
	Value() ([]byte, error) // 消息体
}

// =============================================================================
// Producer 配置
// =============================================================================

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string      // Kafka broker 地址列表
	ClientID       string        // 客户端标识
	RequiredAcks   int           // 确认模式: 0=不等待, 1=leader确认, -1=全部确认
	Compression    string        // 压缩方式: none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration // 刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int           // 最大重试次数

	// OnError 异步发送失败回调 (可选)，用于计数或告警
	OnError func(topic string, err error)
}

// DefaultProducerConfig 默认配置
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		ClientID:       "option-pricer",
		RequiredAcks:   1,
		Compression:    "zstd",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

// saramaConfig 转换为 sarama 配置
func (c ProducerConfig) saramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	if c.ClientID != "" {
		sc.ClientID = c.ClientID
	}

	switch c.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch c.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		// zstd 需要 broker 协议版本 >= 2.1
		sc.Version = sarama.V2_1_0_0
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Producer.Flush.Frequency = c.FlushFrequency
	sc.Producer.Flush.Messages = c.FlushMessages
	sc.Producer.Retry.Max = c.MaxRetries

	// 异步模式，只关心错误
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	return sc
}

// =============================================================================
// Producer 生产者
// =============================================================================

// Producer Kafka 异步生产者
type Producer struct {
	producer sarama.AsyncProducer
	config   ProducerConfig
	logger   *zap.Logger

	sentCount  atomic.Int64
	errorCount atomic.Int64

	// closed 与 Input() 写入互斥，避免向已关闭的 channel 发送
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewProducer 创建生产者
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, cfg.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(producer, cfg, logger), nil
}

func newProducer(ap sarama.AsyncProducer, cfg ProducerConfig, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		producer: ap,
		config:   cfg,
		logger:   logger.Named("kafka.producer"),
	}
	p.wg.Add(1)
	go p.handleErrors()
	return p
}

// Send 发送消息 (异步)
func (p *Producer) Send(msg Message) error {
	data, err := msg.Value()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	return p.SendRaw(msg.Topic(), msg.Key(), data)
}

// SendRaw 发送原始消息
func (p *Producer) SendRaw(topic, key string, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	p.sentCount.Add(1)
	return nil
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for perr := range p.producer.Errors() {
		p.errorCount.Add(1)
		p.logger.Warn("send failed", zap.String("topic", perr.Msg.Topic), zap.Error(perr.Err))
		if p.config.OnError != nil {
			p.config.OnError(perr.Msg.Topic, perr.Err)
		}
	}
}

// =============================================================================
// 统计与生命周期
// =============================================================================

// ProducerStats 统计信息
type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		SentCount:  p.sentCount.Load(),
		ErrorCount: p.errorCount.Load(),
	}
}

// Close 关闭生产者，等待缓冲消息发送完成
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.producer.Close()
	p.wg.Wait()

	stats := p.Stats()
	p.logger.Info("kafka producer closed", zap.Int64("sent", stats.SentCount), zap.Int64("errors", stats.ErrorCount))
	return err
}
