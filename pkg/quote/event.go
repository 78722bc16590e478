// 文件: pkg/quote/event.go
// 报价事件发布
//
// QuoteEvent 实现 kafka.Message 接口，Kafka 和 NATS 两种发布器二选一

package quote

import (
	"encoding/json"
	"strconv"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/kafka"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/nats"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/options"
)

// TopicQuotes 报价事件默认 topic / subject
const TopicQuotes = "option.quotes"

// =============================================================================
// QuoteEvent
// =============================================================================

type QuoteEvent struct {
	QuoteID int64  `json:"quote_id,string"`
	Kind    string `json:"kind"`
	Style   string `json:"style"`

	Spot         float64 `json:"spot"`
	Strike       float64 `json:"strike"`
	TimeToExpiry float64 `json:"time_to_expiry"`
	RiskFreeRate float64 `json:"risk_free_rate"`
	Volatility   float64 `json:"volatility"`

	Price         float64  `json:"price"`
	StandardError *float64 `json:"standard_error,omitempty"`
	options.Greeks
	Method string `json:"method"`

	CreatedAt int64 `json:"created_at"`

	topic string
}

func newQuoteEvent(topic string, req Request, res *Result) *QuoteEvent {
	return &QuoteEvent{
		QuoteID:       res.QuoteID,
		Kind:          res.Kind.String(),
		Style:         res.Style.String(),
		Spot:          req.Spot,
		Strike:        req.Strike,
		TimeToExpiry:  req.TimeToExpiry,
		RiskFreeRate:  req.RiskFreeRate,
		Volatility:    req.Volatility,
		Price:         res.Price,
		StandardError: res.StandardError,
		Greeks:        res.Greeks,
		Method:        res.Method,
		CreatedAt:     res.CreatedAt,
		topic:         topic,
	}
}

// Topic 返回 Kafka topic
func (e *QuoteEvent) Topic() string {
	if e.topic == "" {
		return TopicQuotes
	}
	return e.topic
}

// Key 按报价 ID 分区
func (e *QuoteEvent) Key() string {
	return strconv.FormatInt(e.QuoteID, 10)
}

// Value 返回序列化后的消息体
func (e *QuoteEvent) Value() ([]byte, error) {
	return json.Marshal(e)
}

// =============================================================================
// EventPublisher
// =============================================================================

// EventPublisher 报价事件发布器
type EventPublisher interface {
	PublishQuote(e *QuoteEvent) error
	Close() error
}

// KafkaPublisher 基于 kafka.Producer (异步)
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) PublishQuote(e *QuoteEvent) error {
	return p.producer.Send(e)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NatsPublisher 基于 nats.Publisher
type NatsPublisher struct {
	publisher *nats.Publisher
}

func NewNatsPublisher(publisher *nats.Publisher) *NatsPublisher {
	return &NatsPublisher{publisher: publisher}
}

func (p *NatsPublisher) PublishQuote(e *QuoteEvent) error {
	data, err := e.Value()
	if err != nil {
		return err
	}
	return p.publisher.PublishRaw(e.Topic(), data)
}

func (p *NatsPublisher) Close() error {
	p.publisher.Close()
	return nil
}
