// 文件: pkg/nats/publisher.go
// NATS 消息发布者
// 轻量级替代 Kafka，适合本地开发和单机部署

package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Connect 建立连接，断线自动重连并记录日志
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn
	own  bool // 连接由 Publisher 创建，Close 时关闭
}

// NewPublisher 创建发布者
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := Connect(url, "option-pricer-publisher", logger)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, own: true}, nil
}

// NewPublisherWithConn 复用已有连接
func NewPublisherWithConn(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Publish 以 JSON 发布
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return p.conn.Publish(subject, bytes)
}

// PublishRaw 发布原始消息
func (p *Publisher) PublishRaw(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Flush 等待服务端确认已收到缓冲的消息
func (p *Publisher) Flush(timeout time.Duration) error {
	return p.conn.FlushTimeout(timeout)
}

// Close 关闭连接 (复用的连接不关闭)
func (p *Publisher) Close() {
	if p.own {
		p.conn.Close()
	}
}
