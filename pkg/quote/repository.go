// 文件: pkg/quote/repository.go
package quote

import (
	"context"
	"errors"
	"sync"
)

// ErrQuoteNotFound 报价不存在
var ErrQuoteNotFound = errors.New("quote not found")

type Repository interface {
	// 创建
	Create(ctx context.Context, q *Quote) error

	// 查询
	GetByQuoteID(ctx context.Context, quoteID int64) (*Quote, error)
	ListRecent(ctx context.Context, limit int) ([]*Quote, error)
}

// =============================================================================
// MemoryRepository 未配置 MySQL 时使用，只保留最近 capacity 条
// =============================================================================

type MemoryRepository struct {
	mu       sync.RWMutex
	capacity int
	quotes   []*Quote // 按写入顺序
	byID     map[int64]*Quote
}

func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryRepository{
		capacity: capacity,
		byID:     make(map[int64]*Quote, capacity),
	}
}

func (r *MemoryRepository) Create(_ context.Context, q *Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *q
	if len(r.quotes) == r.capacity {
		delete(r.byID, r.quotes[0].QuoteID)
		r.quotes = r.quotes[1:]
	}
	r.quotes = append(r.quotes, &cp)
	r.byID[cp.QuoteID] = &cp
	return nil
}

func (r *MemoryRepository) GetByQuoteID(_ context.Context, quoteID int64) (*Quote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.byID[quoteID]
	if !ok {
		return nil, ErrQuoteNotFound
	}
	cp := *q
	return &cp, nil
}

func (r *MemoryRepository) ListRecent(_ context.Context, limit int) ([]*Quote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := max(min(limit, len(r.quotes)), 0)
	out := make([]*Quote, 0, n)
	for i := len(r.quotes) - 1; i >= 0 && len(out) < n; i-- {
		cp := *r.quotes[i]
		out = append(out, &cp)
	}
	return out, nil
}
