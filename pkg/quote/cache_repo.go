// 文件: pkg/quote/cache_repo.go
// Redis 缓存层
//
// CachedRepository: 装饰底层 Repository，按 quote_id 缓存历史报价 (报价不可变，TTL 可以很长)
// RedisResultCache: 按请求哈希缓存确定性定价结果，命中时跳过计算

package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Repository = (*CachedRepository)(nil)

const (
	cacheKeyPrefix = "option:quote:"

	// 单条报价: option:quote:id:{quoteID}
	cacheKeyQuote = cacheKeyPrefix + "id:%d"

	// 定价结果: option:quote:result:{sha256}
	cacheKeyResult = cacheKeyPrefix + "result:%s"

	quoteCacheTTL = 24 * time.Hour
)

// =============================================================================
// CachedRepository
// =============================================================================

type CachedRepository struct {
	repo  Repository
	redis redis.UniversalClient
}

// NewCachedRepository 用法:
//
//	mysqlRepo := NewMySQLRepository(db)
//	repo := NewCachedRepository(mysqlRepo, redisClient)
func NewCachedRepository(repo Repository, rds redis.UniversalClient) *CachedRepository {
	return &CachedRepository{repo: repo, redis: rds}
}

// Create 只写底层，下次读取时回填
func (r *CachedRepository) Create(ctx context.Context, q *Quote) error {
	return r.repo.Create(ctx, q)
}

// GetByQuoteID 先查 Redis，miss 则查底层并异步回填
func (r *CachedRepository) GetByQuoteID(ctx context.Context, quoteID int64) (*Quote, error) {
	key := fmt.Sprintf(cacheKeyQuote, quoteID)

	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		var q Quote
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	}

	q, err := r.repo.GetByQuoteID(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	go r.setCache(context.Background(), key, q)
	return q, nil
}

// ListRecent 列表变化频繁，不缓存
func (r *CachedRepository) ListRecent(ctx context.Context, limit int) ([]*Quote, error) {
	return r.repo.ListRecent(ctx, limit)
}

func (r *CachedRepository) setCache(ctx context.Context, key string, q *Quote) {
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, quoteCacheTTL)
}

// =============================================================================
// ResultCache
// =============================================================================

// ResultCache 定价结果缓存
type ResultCache interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Set(ctx context.Context, key string, res *Result, ttl time.Duration) error
}

type RedisResultCache struct {
	redis redis.UniversalClient
}

func NewRedisResultCache(rds redis.UniversalClient) *RedisResultCache {
	return &RedisResultCache{redis: rds}
}

func (c *RedisResultCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	data, err := c.redis.Get(ctx, fmt.Sprintf(cacheKeyResult, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return &res, true, nil
}

func (c *RedisResultCache) Set(ctx context.Context, key string, res *Result, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, fmt.Sprintf(cacheKeyResult, key), data, ttl).Err()
}
