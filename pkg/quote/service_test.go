package quote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/metrics"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/options"
)

// =============================================================================
// 测试替身
// =============================================================================

type mapCache struct {
	mu   sync.Mutex
	data map[string]Result
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string]Result)} }

func (c *mapCache) Get(_ context.Context, key string) (*Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return &res, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, res *Result, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = *res
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*QuoteEvent
	err    error
}

func (p *capturePublisher) PublishQuote(e *QuoteEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	cache   *mapCache
	pub     *capturePublisher
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ids, err := NewIDGenerator(1)
	require.NoError(t, err)

	f := &fixture{
		repo:    NewMemoryRepository(100),
		cache:   newMapCache(),
		pub:     &capturePublisher{},
		metrics: metrics.New(prometheus.NewRegistry(), "test"),
	}
	base := []Option{
		WithRepository(f.repo),
		WithResultCache(f.cache, time.Minute),
		WithPublisher(f.pub, ""),
		WithMetrics(f.metrics),
		WithLimits(Limits{MaxPathCount: 100_000, MaxStepCount: 500, Workers: 2, BatchSize: 256}),
	}
	f.svc = NewService(options.NewEngine(), ids, append(base, opts...)...)
	return f
}

func europeanCall() Request {
	return Request{Spot: 100, Strike: 100, TimeToExpiry: 1, RiskFreeRate: 0.05, Volatility: 0.2, Kind: options.Call}
}

func americanPut(seed *uint64) Request {
	return Request{
		Spot: 100, Strike: 100, TimeToExpiry: 1, RiskFreeRate: 0.05, Volatility: 0.2,
		Kind: options.Put, Style: options.American,
		Simulation: &options.SimulationConfig{PathCount: 4000, StepCount: 20, Seed: seed},
	}
}

// =============================================================================
// 定价流程
// =============================================================================

func TestService_PriceEuropean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Price(ctx, europeanCall())
	require.NoError(t, err)
	assert.NotZero(t, res.QuoteID)
	assert.InDelta(t, 10.450583572185565, res.Price, 1e-9)
	assert.Equal(t, options.European, res.Style)
	assert.False(t, res.Cached)

	// 落库
	q, err := f.svc.Get(ctx, res.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, "call", q.Kind)
	assert.Equal(t, "european", q.Style)
	assert.InDelta(t, 10.450583572185565, q.Price.InexactFloat64(), 1e-9)
	assert.False(t, q.StandardError.Valid)

	// 事件
	require.Len(t, f.pub.events, 1)
	ev := f.pub.events[0]
	assert.Equal(t, res.QuoteID, ev.QuoteID)
	assert.Equal(t, TopicQuotes, ev.Topic())
	assert.Equal(t, 100.0, ev.Spot)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QuotesStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.metrics.PricingRequests.WithLabelValues(options.MethodBlackScholes, "european", metrics.OutcomeOK)))
}

func TestService_CacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Price(ctx, europeanCall())
	require.NoError(t, err)

	// 欧式忽略模拟配置，cache key 相同
	req := europeanCall()
	req.Simulation = &options.SimulationConfig{PathCount: 10}
	second, err := f.svc.Price(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.QuoteID, second.QuoteID)
	assert.Equal(t, first.Price, second.Price)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheHits))

	// 命中缓存不重复落库和发布
	recent, err := f.svc.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Len(t, f.pub.events, 1)
}

func TestService_SeededSimulationIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := uint64(42)

	first, err := f.svc.Price(ctx, americanPut(&seed))
	require.NoError(t, err)
	require.NotNil(t, first.StandardError)
	require.NotNil(t, first.Seed)
	assert.Equal(t, seed, *first.Seed)
	assert.Equal(t, options.MethodMonteCarlo, first.Method)

	second, err := f.svc.Price(ctx, americanPut(&seed))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Price, second.Price)

	q, err := f.svc.Get(ctx, first.QuoteID)
	require.NoError(t, err)
	assert.True(t, q.StandardError.Valid)
	require.NotNil(t, q.Seed)
	assert.Equal(t, seed, *q.Seed)
	assert.NotEmpty(t, q.Notes)
}

func TestService_UnseededSimulationNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Price(ctx, americanPut(nil))
	require.NoError(t, err)
	second, err := f.svc.Price(ctx, americanPut(nil))
	require.NoError(t, err)

	assert.False(t, second.Cached)
	assert.NotEqual(t, first.QuoteID, second.QuoteID)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.CacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.CacheMisses))
	assert.Equal(t, 8000.0, testutil.ToFloat64(f.metrics.PathsSimulated))
}

func TestService_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := europeanCall()
	bad.Spot = -1
	_, err := f.svc.Price(ctx, bad)
	assert.ErrorIs(t, err, options.ErrInvalidParameter)
	assert.True(t, IsClientError(err))

	missing := americanPut(nil)
	missing.Simulation = nil
	_, err = f.svc.Price(ctx, missing)
	assert.ErrorIs(t, err, options.ErrMissingConfig)

	tooMany := americanPut(nil)
	tooMany.Simulation.PathCount = 1_000_000
	_, err = f.svc.Price(ctx, tooMany)
	var fe *options.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "pathCount", fe.Field)
	assert.ErrorIs(t, err, options.ErrInvalidConfig)

	tooLong := americanPut(nil)
	tooLong.Simulation.StepCount = 501
	_, err = f.svc.Price(ctx, tooLong)
	assert.ErrorIs(t, err, options.ErrInvalidConfig)

	greeks := europeanCall()
	greeks.Greeks = "numerical"
	_, err = f.svc.Price(ctx, greeks)
	assert.ErrorIs(t, err, options.ErrInvalidParameter)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		f.metrics.PricingRequests.WithLabelValues(options.MethodBlackScholes, "european", metrics.OutcomeRejected)))
	assert.Equal(t, 3.0, testutil.ToFloat64(
		f.metrics.PricingRequests.WithLabelValues(options.MethodMonteCarlo, "american", metrics.OutcomeRejected)))

	recent, err := f.svc.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Empty(t, f.pub.events)
}

func TestService_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Price(ctx, americanPut(nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsClientError(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.metrics.PricingRequests.WithLabelValues(options.MethodMonteCarlo, "american", metrics.OutcomeCanceled)))
}

func TestService_PublishFailureDoesNotFailPricing(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	res, err := f.svc.Price(context.Background(), europeanCall())
	require.NoError(t, err)
	assert.NotZero(t, res.QuoteID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QuotesStored))
}

func TestService_WithoutOptionalDependencies(t *testing.T) {
	ids, err := NewIDGenerator(2)
	require.NoError(t, err)
	svc := NewService(options.NewEngine(), ids)
	ctx := context.Background()

	res, err := svc.Price(ctx, europeanCall())
	require.NoError(t, err)
	assert.NotZero(t, res.QuoteID)

	_, err = svc.Get(ctx, res.QuoteID)
	assert.ErrorIs(t, err, ErrQuoteNotFound)

	recent, err := svc.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestService_RecentAndClock(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	f := newFixture(t, withClock(func() time.Time { return now }))
	ctx := context.Background()

	var ids []int64
	for _, spot := range []float64{90, 100, 110} {
		req := europeanCall()
		req.Spot = spot
		res, err := f.svc.Price(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, now.UnixMilli(), res.CreatedAt)
		ids = append(ids, res.QuoteID)
	}

	recent, err := f.svc.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].QuoteID)
	assert.Equal(t, ids[1], recent[1].QuoteID)

	recent, err = f.svc.Recent(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	_, err = f.svc.Get(ctx, 12345)
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}

// =============================================================================
// 消息驱动
// =============================================================================

func TestService_HandleMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body := `{"spot":100,"strike":100,"time_to_expiry":1,"risk_free_rate":0.05,"volatility":0.2,"kind":"put"}`
	data, err := f.svc.HandleMessage(ctx, []byte(body))
	require.NoError(t, err)

	var reply Reply
	require.NoError(t, json.Unmarshal(data, &reply))
	require.NotNil(t, reply.Result)
	assert.Empty(t, reply.Error)
	assert.InDelta(t, 5.573526022256971, reply.Result.Price, 1e-9)
	assert.Equal(t, options.Put, reply.Result.Kind)

	// 非法 JSON
	data, err = f.svc.HandleMessage(ctx, []byte(`{"spot":`))
	require.Error(t, err)
	require.NoError(t, json.Unmarshal(data, &reply))
	assert.NotEmpty(t, reply.Error)

	// 非法类型
	data, err = f.svc.HandleMessage(ctx, []byte(`{"spot":100,"strike":100,"time_to_expiry":1,"kind":"straddle"}`))
	require.Error(t, err)
	assert.Contains(t, string(data), "error")

	// 参数错误
	_, err = f.svc.HandleMessage(ctx, []byte(`{"spot":0,"strike":100,"time_to_expiry":1,"kind":"call"}`))
	assert.ErrorIs(t, err, options.ErrInvalidParameter)
}

func TestQuoteEvent(t *testing.T) {
	res := &Result{
		QuoteID:       1234567890123,
		PricingResult: options.PricingResult{Price: 10.45, Kind: options.Call, Style: options.European, Method: options.MethodBlackScholes},
		CreatedAt:     1_700_000_000_000,
	}
	ev := newQuoteEvent("custom.quotes", europeanCall(), res)

	assert.Equal(t, "custom.quotes", ev.Topic())
	assert.Equal(t, "1234567890123", ev.Key())

	data, err := ev.Value()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "1234567890123", decoded["quote_id"])
	assert.Equal(t, "call", decoded["kind"])
	assert.Equal(t, 10.45, decoded["price"])
	assert.Contains(t, decoded, "delta")
	assert.NotContains(t, decoded, "standard_error")

	assert.Equal(t, TopicQuotes, (&QuoteEvent{}).Topic())
}
