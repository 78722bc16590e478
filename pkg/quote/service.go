// 文件: pkg/quote/service.go
// 报价服务: 在定价引擎外层加上 ID、缓存、落库、事件和指标
//
// 流程: 校验 -> 查缓存 -> 计算 -> 分配 ID -> 落库 -> 发布事件 -> 回填缓存
// 落库和发布失败只记录日志，不影响返回的价格

package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/metrics"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/options"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
	DefaultCacheTTL    = 10 * time.Minute
)

type Service struct {
	engine *options.Engine
	ids    *IDGenerator

	repo      Repository
	cache     ResultCache
	cacheTTL  time.Duration
	publisher EventPublisher
	topic     string
	limits    Limits

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithRepository(r Repository) Option { return func(s *Service) { s.repo = r } }

func WithResultCache(c ResultCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithPublisher topic 为空时使用 TopicQuotes
func WithPublisher(p EventPublisher, topic string) Option {
	return func(s *Service) {
		s.publisher = p
		if topic != "" {
			s.topic = topic
		}
	}
}

func WithLimits(l Limits) Option             { return func(s *Service) { s.limits = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(s *Service) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option        { return func(s *Service) { s.logger = l } }
func withClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(engine *options.Engine, ids *IDGenerator, opts ...Option) *Service {
	s := &Service{
		engine:   engine,
		ids:      ids,
		cacheTTL: DefaultCacheTTL,
		topic:    TopicQuotes,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("quote")
	return s
}

// Engine 返回底层定价引擎 (无状态计算接口直接使用)
func (s *Service) Engine() *options.Engine { return s.engine }

// Limits 模拟规模限制
func (s *Service) Limits() Limits { return s.limits }

// =============================================================================
// 定价
// =============================================================================

// Price 完整定价流程
func (s *Service) Price(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	req = req.normalize(s.limits)

	oreq, err := req.toOptions(s.limits)
	if err != nil {
		s.observe(req, metrics.OutcomeRejected, start)
		return nil, err
	}

	key := s.lookupKey(req)
	if key != "" {
		if hit := s.cached(ctx, key); hit != nil {
			return hit, nil
		}
	}

	pr, err := s.engine.Quote(ctx, oreq)
	if err != nil {
		s.observe(req, outcomeOf(err), start)
		return nil, err
	}

	res := &Result{
		QuoteID:       s.ids.Next(),
		PricingResult: pr,
		CreatedAt:     s.now().UnixMilli(),
	}
	s.observe(req, metrics.OutcomeOK, start)

	s.store(ctx, req, res)
	s.publish(req, res)

	if key != "" {
		if err := s.cache.Set(ctx, key, res, s.cacheTTL); err != nil {
			s.logger.Warn("cache fill failed", zap.Int64("quote_id", res.QuoteID), zap.Error(err))
		}
	}

	s.logger.Debug("priced",
		zap.Int64("quote_id", res.QuoteID),
		zap.Stringer("kind", res.Kind),
		zap.Stringer("style", res.Style),
		zap.String("method", res.Method),
		zap.Float64("price", res.Price),
		zap.Duration("elapsed", s.now().Sub(start)))
	return res, nil
}

func (s *Service) lookupKey(req Request) string {
	if s.cache == nil || !req.deterministic() {
		return ""
	}
	key, err := req.cacheKey()
	if err != nil {
		s.logger.Warn("cache key", zap.Error(err))
		return ""
	}
	return key
}

func (s *Service) cached(ctx context.Context, key string) *Result {
	hit, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache lookup failed", zap.Error(err))
		return nil
	}
	if !ok {
		if s.metrics != nil {
			s.metrics.CacheMisses.Inc()
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
	hit.Cached = true
	return hit
}

func (s *Service) store(ctx context.Context, req Request, res *Result) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Create(ctx, newQuote(req, res)); err != nil {
		s.logger.Error("store quote failed", zap.Int64("quote_id", res.QuoteID), zap.Error(err))
		if s.metrics != nil {
			s.metrics.StoreErrors.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.QuotesStored.Inc()
	}
}

func (s *Service) publish(req Request, res *Result) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishQuote(newQuoteEvent(s.topic, req, res)); err != nil {
		s.logger.Warn("publish quote failed", zap.Int64("quote_id", res.QuoteID), zap.Error(err))
		if s.metrics != nil {
			s.metrics.PublishErrors.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.Inc()
	}
}

func (s *Service) observe(req Request, outcome string, start time.Time) {
	method := options.MethodBlackScholes
	paths := 0
	if req.Style != options.European {
		method = options.MethodMonteCarlo
		if req.Simulation != nil {
			paths = req.Simulation.PathCount
		}
	}
	s.metrics.ObservePricing(method, req.Style.String(), outcome, paths, s.now().Sub(start))
}

// outcomeOf 错误分类，用于指标标签
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	case IsClientError(err):
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeError
}

// IsClientError 参数或配置错误 (调用方可修正)
func IsClientError(err error) bool {
	return errors.Is(err, options.ErrInvalidParameter) ||
		errors.Is(err, options.ErrInvalidConfig) ||
		errors.Is(err, options.ErrMissingConfig)
}

// =============================================================================
// 查询
// =============================================================================

// Get 按报价 ID 查询历史
func (s *Service) Get(ctx context.Context, quoteID int64) (*Quote, error) {
	if s.repo == nil {
		return nil, ErrQuoteNotFound
	}
	return s.repo.GetByQuoteID(ctx, quoteID)
}

// Recent 最近的报价，limit<=0 取默认值
func (s *Service) Recent(ctx context.Context, limit int) ([]*Quote, error) {
	if s.repo == nil {
		return []*Quote{}, nil
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)
	return s.repo.ListRecent(ctx, limit)
}

// =============================================================================
// 消息驱动定价
// =============================================================================

// Reply 消息定价的应答
type Reply struct {
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// HandleMessage 解析 JSON 请求并定价，返回 JSON 应答。
// 请求本身有问题时仍返回应答 (带 error 字段) 和错误。
func (s *Service) HandleMessage(ctx context.Context, data []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		err = fmt.Errorf("decode pricing request: %w", err)
		reply, _ := json.Marshal(Reply{Error: err.Error()})
		return reply, err
	}

	res, err := s.Price(ctx, req)
	if err != nil {
		reply, _ := json.Marshal(Reply{Error: err.Error()})
		return reply, fmt.Errorf("price request: %w", err)
	}
	return json.Marshal(Reply{Result: res})
}
