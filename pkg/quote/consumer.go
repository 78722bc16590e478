// 文件: pkg/quote/consumer.go
// 定价请求消费者 - 从 NATS 或 Kafka 接收 JSON 定价请求
//
// NATS: 队列订阅，多实例负载均衡；请求带 Reply 时回复结果
// Kafka: 消费者组；结果通过报价事件发布，不单独回复

package quote

import (
	"context"

	"go.uber.org/zap"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/kafka"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/metrics"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/nats"
)

const (
	// TopicRequests 定价请求默认 topic / subject
	TopicRequests = "option.requests"
	// QueueGroup NATS 队列组 / Kafka 消费者组
	QueueGroup = "option-pricer"
)

// RequestConsumer 定价请求消费者
type RequestConsumer struct {
	service *Service
	metrics *metrics.Metrics
	logger  *zap.Logger

	subscriber *nats.Subscriber
	consumer   *kafka.Consumer
}

func newRequestConsumer(service *Service, m *metrics.Metrics, logger *zap.Logger) *RequestConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestConsumer{service: service, metrics: m, logger: logger.Named("quote.consumer")}
}

// NewNatsRequestConsumer 订阅 subject (队列组 QueueGroup)
func NewNatsRequestConsumer(service *Service, natsURL, subject string, m *metrics.Metrics, logger *zap.Logger) (*RequestConsumer, error) {
	rc := newRequestConsumer(service, m, logger)

	sub, err := nats.NewSubscriber(natsURL, rc.handleNats, logger)
	if err != nil {
		return nil, err
	}
	if err := sub.SubscribeQueue(subject, QueueGroup); err != nil {
		sub.Close()
		return nil, err
	}
	rc.subscriber = sub
	return rc, nil
}

// NewKafkaRequestConsumer 创建消费者组，Start 后开始消费
func NewKafkaRequestConsumer(service *Service, brokers []string, group, topic string, m *metrics.Metrics, logger *zap.Logger) (*RequestConsumer, error) {
	rc := newRequestConsumer(service, m, logger)

	cfg := kafka.DefaultConsumerConfig(brokers, group, []string{topic})
	consumer, err := kafka.NewConsumer(cfg, rc.handleKafka, logger)
	if err != nil {
		return nil, err
	}
	consumer.Start()
	rc.consumer = consumer
	return rc, nil
}

// Stop 停止消费
func (c *RequestConsumer) Stop() error {
	if c.subscriber != nil {
		return c.subscriber.Close()
	}
	if c.consumer != nil {
		return c.consumer.Stop()
	}
	return nil
}

func (c *RequestConsumer) handleNats(ctx context.Context, _ string, data []byte) ([]byte, error) {
	reply, err := c.service.HandleMessage(ctx, data)
	c.count("nats", err)
	return reply, err
}

func (c *RequestConsumer) handleKafka(ctx context.Context, rec kafka.Record) error {
	_, err := c.service.HandleMessage(ctx, rec.Value)
	c.count("kafka", err)
	return err
}

func (c *RequestConsumer) count(source string, err error) {
	if c.metrics == nil {
		return
	}
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = outcomeOf(err)
	}
	c.metrics.MessagesConsumed.WithLabelValues(source, outcome).Inc()
}
