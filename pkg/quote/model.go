// 文件: pkg/quote/model.go
// 报价模型: 对外请求、计算结果、落库记录

package quote

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/options"
)

// =============================================================================
// Request 定价请求 (HTTP / NATS / Kafka 共用)
// =============================================================================

type Request struct {
	Spot         float64 `json:"spot"`
	Strike       float64 `json:"strike"`
	TimeToExpiry float64 `json:"time_to_expiry"` // 年
	RiskFreeRate float64 `json:"risk_free_rate"`
	Volatility   float64 `json:"volatility"`

	Kind  options.OptionKind      `json:"kind"`
	Style options.InstrumentStyle `json:"style,omitempty"` // 缺省为 european

	Simulation *options.SimulationConfig `json:"simulation,omitempty"`
	Greeks     string                    `json:"greeks,omitempty"` // analytic / finite-difference
}

// Limits 服务端对模拟规模的限制，Workers / BatchSize 为请求未指定时的默认值
type Limits struct {
	MaxPathCount   int
	MaxStepCount   int
	MaxSamplePaths int // 样本路径全部驻留内存，0 时取 DefaultMaxSamplePaths
	Workers        int
	BatchSize      int
}

// DefaultMaxSamplePaths 单次返回的样本路径条数上限
const DefaultMaxSamplePaths = 1000

// Apply 填充默认值并检查上限，用于不经过 Service.Price 的模拟接口
func (l Limits) Apply(sim options.SimulationConfig) (options.SimulationConfig, error) {
	sim = l.fill(sim)
	if err := l.check(sim); err != nil {
		return options.SimulationConfig{}, err
	}
	return sim, nil
}

// CheckSamples 检查样本路径条数，n 条路径各保留 StepCount+1 个点
func (l Limits) CheckSamples(n int) error {
	limit := l.MaxSamplePaths
	if limit <= 0 {
		limit = DefaultMaxSamplePaths
	}
	if n > limit {
		return &options.FieldError{Err: options.ErrInvalidConfig, Field: "sampleCount", Value: n}
	}
	return nil
}

func (l Limits) fill(sim options.SimulationConfig) options.SimulationConfig {
	if sim.Workers == 0 {
		sim.Workers = l.Workers
	}
	if sim.BatchSize == 0 {
		sim.BatchSize = l.BatchSize
	}
	return sim
}

func (l Limits) check(sim options.SimulationConfig) error {
	if l.MaxPathCount > 0 && sim.PathCount > l.MaxPathCount {
		return &options.FieldError{Err: options.ErrInvalidConfig, Field: "pathCount", Value: sim.PathCount}
	}
	if l.MaxStepCount > 0 && sim.StepCount > l.MaxStepCount {
		return &options.FieldError{Err: options.ErrInvalidConfig, Field: "stepCount", Value: sim.StepCount}
	}
	return nil
}

// normalize 填充默认值，返回副本
func (r Request) normalize(l Limits) Request {
	if r.Style == 0 {
		r.Style = options.European
	}
	if r.Style == options.European {
		// 欧式不使用模拟配置，去掉后缓存 key 只取决于市场参数
		r.Simulation = nil
	}
	if r.Simulation != nil {
		sim := l.fill(*r.Simulation)
		r.Simulation = &sim
	}
	r.Greeks = strings.ToLower(strings.TrimSpace(r.Greeks))
	return r
}

// toOptions 校验并转换为引擎请求
func (r Request) toOptions(l Limits) (options.Request, error) {
	params, err := options.NewMarketParameters(r.Spot, r.Strike, r.TimeToExpiry, r.RiskFreeRate, r.Volatility)
	if err != nil {
		return options.Request{}, err
	}
	mode, err := options.ParseGreeksMode(r.Greeks)
	if err != nil {
		return options.Request{}, err
	}
	if r.Simulation != nil {
		if err := l.check(*r.Simulation); err != nil {
			return options.Request{}, err
		}
	}
	return options.Request{
		Params:     params,
		Kind:       r.Kind,
		Style:      r.Style,
		Simulation: r.Simulation,
		GreeksMode: mode,
	}, nil
}

// deterministic 相同请求必然得到相同结果时才可以缓存
func (r Request) deterministic() bool {
	if r.Style == options.European {
		return true
	}
	return r.Simulation != nil && r.Simulation.Seed != nil
}

// cacheKey 规范化请求 JSON 的 sha256
func (r Request) cacheKey() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// =============================================================================
// Result 定价结果
// =============================================================================

type Result struct {
	QuoteID int64 `json:"quote_id,string"`
	options.PricingResult
	CreatedAt int64 `json:"created_at"` // unix ms
	Cached    bool  `json:"cached"`
}

// =============================================================================
// Quote 落库记录
// =============================================================================

type Quote struct {
	ID      uint  `gorm:"primaryKey;autoIncrement" json:"-"`
	QuoteID int64 `gorm:"column:quote_id;uniqueIndex" json:"quote_id,string"` // 雪花ID

	Kind  string `gorm:"column:kind;type:varchar(8)" json:"kind"`
	Style string `gorm:"column:style;type:varchar(16);index" json:"style"`

	// 输入
	Spot         decimal.Decimal `gorm:"column:spot;type:decimal(32,12)" json:"spot"`
	Strike       decimal.Decimal `gorm:"column:strike;type:decimal(32,12)" json:"strike"`
	TimeToExpiry decimal.Decimal `gorm:"column:time_to_expiry;type:decimal(32,12)" json:"time_to_expiry"`
	RiskFreeRate decimal.Decimal `gorm:"column:risk_free_rate;type:decimal(32,12)" json:"risk_free_rate"`
	Volatility   decimal.Decimal `gorm:"column:volatility;type:decimal(32,12)" json:"volatility"`

	// 输出
	Price         decimal.Decimal     `gorm:"column:price;type:decimal(32,12)" json:"price"`
	Delta         decimal.Decimal     `gorm:"column:delta;type:decimal(32,12)" json:"delta"`
	Gamma         decimal.Decimal     `gorm:"column:gamma;type:decimal(32,12)" json:"gamma"`
	Vega          decimal.Decimal     `gorm:"column:vega;type:decimal(32,12)" json:"vega"`
	Theta         decimal.Decimal     `gorm:"column:theta;type:decimal(32,12)" json:"theta"`
	Rho           decimal.Decimal     `gorm:"column:rho;type:decimal(32,12)" json:"rho"`
	StandardError decimal.NullDecimal `gorm:"column:standard_error;type:decimal(32,12)" json:"standard_error"`

	// 方法
	Method       string  `gorm:"column:method;type:varchar(32)" json:"method"`
	GreeksMethod string  `gorm:"column:greeks_method;type:varchar(32)" json:"greeks_method"`
	PathCount    int     `gorm:"column:path_count" json:"path_count,omitempty"`
	StepCount    int     `gorm:"column:step_count" json:"step_count,omitempty"`
	Seed         *uint64 `gorm:"column:seed" json:"seed,omitempty,string"`
	Notes        string  `gorm:"column:notes;type:text" json:"notes,omitempty"` // "; " 分隔

	CreatedAt int64 `gorm:"column:created_at;index" json:"created_at"`
}

func (Quote) TableName() string {
	return "option_quotes"
}

// newQuote 由请求和结果生成落库记录
func newQuote(req Request, res *Result) *Quote {
	q := &Quote{
		QuoteID:      res.QuoteID,
		Kind:         res.Kind.String(),
		Style:        res.Style.String(),
		Spot:         decimal.NewFromFloat(req.Spot),
		Strike:       decimal.NewFromFloat(req.Strike),
		TimeToExpiry: decimal.NewFromFloat(req.TimeToExpiry),
		RiskFreeRate: decimal.NewFromFloat(req.RiskFreeRate),
		Volatility:   decimal.NewFromFloat(req.Volatility),
		Price:        decimal.NewFromFloat(res.Price),
		Delta:        decimal.NewFromFloat(res.Delta),
		Gamma:        decimal.NewFromFloat(res.Gamma),
		Vega:         decimal.NewFromFloat(res.Vega),
		Theta:        decimal.NewFromFloat(res.Theta),
		Rho:          decimal.NewFromFloat(res.Rho),
		Method:       res.Method,
		GreeksMethod: res.GreeksMethod,
		PathCount:    res.PathCount,
		StepCount:    res.StepCount,
		Seed:         res.Seed,
		Notes:        strings.Join(res.Notes, "; "),
		CreatedAt:    res.CreatedAt,
	}
	if res.StandardError != nil {
		q.StandardError = decimal.NewNullDecimal(decimal.NewFromFloat(*res.StandardError))
	}
	return q
}
