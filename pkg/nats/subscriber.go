// 文件: pkg/nats/subscriber.go
// NATS 消息订阅者

package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数
// 返回非 nil 的 reply 且消息带 Reply 主题时，自动回复 (request/reply 模式)
type MessageHandler func(ctx context.Context, subject string, data []byte) (reply []byte, err error)

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	subs    []*nats.Subscription
	handler MessageHandler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber 创建订阅者
func NewSubscriber(url string, handler MessageHandler, logger *zap.Logger) (*Subscriber, error) {
	conn, err := Connect(url, "option-pricer-subscriber", logger)
	if err != nil {
		return nil, err
	}
	return newSubscriber(conn, handler, logger), nil
}

func newSubscriber(conn *nats.Conn, handler MessageHandler, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		conn:    conn,
		handler: handler,
		logger:  logger.Named("nats.subscriber"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe 订阅主题
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.dispatch)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅 (多实例负载均衡)
func (s *Subscriber) SubscribeQueue(subject, queue string) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, s.dispatch)
	if err != nil {
		return fmt.Errorf("queue subscribe %s/%s: %w", subject, queue, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) dispatch(msg *nats.Msg) {
	reply, err := s.handler(s.ctx, msg.Subject, msg.Data)
	if err != nil {
		s.logger.Warn("handle failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
	if msg.Reply != "" && reply != nil {
		if err := msg.Respond(reply); err != nil {
			s.logger.Warn("respond failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}
}

// Close 取消订阅并断开连接，正在处理的消息收到取消信号
func (s *Subscriber) Close() error {
	s.cancel()
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	s.conn.Close()
	return nil
}
