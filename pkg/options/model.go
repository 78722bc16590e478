// 文件: pkg/options/model.go
// 定价引擎的输入模型: 市场参数、期权类型、行权方式、模拟配置

package options

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// =============================================================================
// OptionKind 看涨 / 看跌
// =============================================================================

type OptionKind int8

const (
	Call OptionKind = iota + 1
	Put
)

func (k OptionKind) String() string {
	switch k {
	case Call:
		return "call"
	case Put:
		return "put"
	}
	return "unknown"
}

// ParseOptionKind 解析外部传入的字符串 ("call"/"put"，不区分大小写)
func ParseOptionKind(s string) (OptionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return 0, &FieldError{Err: ErrInvalidParameter, Field: "kind", Value: s}
}

// =============================================================================
// InstrumentStyle 行权方式
// =============================================================================

type InstrumentStyle int8

const (
	European InstrumentStyle = iota + 1 // 只能到期行权
	American                            // 到期前任意时间行权
	Asian                               // 收益取决于路径均价
)

func (s InstrumentStyle) String() string {
	switch s {
	case European:
		return "european"
	case American:
		return "american"
	case Asian:
		return "asian"
	}
	return "unknown"
}

// ParseInstrumentStyle 解析行权方式字符串
func ParseInstrumentStyle(s string) (InstrumentStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "european", "eu":
		return European, nil
	case "american", "am":
		return American, nil
	case "asian":
		return Asian, nil
	}
	return 0, &FieldError{Err: ErrInvalidParameter, Field: "style", Value: s}
}

// MarshalText / UnmarshalText 让枚举在 JSON 中以字符串出现

func (k OptionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OptionKind) UnmarshalText(b []byte) error {
	v, err := ParseOptionKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (s InstrumentStyle) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *InstrumentStyle) UnmarshalText(b []byte) error {
	v, err := ParseInstrumentStyle(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (k OptionKind) valid() bool      { return k == Call || k == Put }
func (s InstrumentStyle) valid() bool { return s >= European && s <= Asian }

// =============================================================================
// MarketParameters 市场参数 (不可变值对象)
// =============================================================================

// MarketParameters 一次定价调用的全部市场输入。
// 字段不导出，只能通过 NewMarketParameters 构造，构造成功即满足:
//   - spot > 0, strike > 0
//   - timeToExpiry >= 0 (年), volatility >= 0
//   - 所有字段为有限数
type MarketParameters struct {
	spot         float64
	strike       float64
	timeToExpiry float64
	riskFreeRate float64
	volatility   float64
}

// NewMarketParameters 校验并构造市场参数
// S: 标的现价, K: 行权价, T: 剩余期限(年), r: 无风险利率(连续复利), sigma: 年化波动率
func NewMarketParameters(S, K, T, r, sigma float64) (MarketParameters, error) {
	checks := []struct {
		field string
		value float64
		ok    bool
	}{
		{"spot", S, S > 0},
		{"strike", K, K > 0},
		{"timeToExpiry", T, T >= 0},
		{"riskFreeRate", r, true},
		{"volatility", sigma, sigma >= 0},
	}
	for _, c := range checks {
		if !c.ok || math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return MarketParameters{}, &FieldError{Err: ErrInvalidParameter, Field: c.field, Value: c.value}
		}
	}
	return MarketParameters{
		spot:         S,
		strike:       K,
		timeToExpiry: T,
		riskFreeRate: r,
		volatility:   sigma,
	}, nil
}

func (p MarketParameters) Spot() float64         { return p.spot }
func (p MarketParameters) Strike() float64       { return p.strike }
func (p MarketParameters) TimeToExpiry() float64 { return p.timeToExpiry }
func (p MarketParameters) RiskFreeRate() float64 { return p.riskFreeRate }
func (p MarketParameters) Volatility() float64   { return p.volatility }

// With* 返回修改了单个字段的新参数，原值不变。
// 用于情景分析和有限差分 bump。

func (p MarketParameters) WithSpot(S float64) (MarketParameters, error) {
	return NewMarketParameters(S, p.strike, p.timeToExpiry, p.riskFreeRate, p.volatility)
}

func (p MarketParameters) WithVolatility(sigma float64) (MarketParameters, error) {
	return NewMarketParameters(p.spot, p.strike, p.timeToExpiry, p.riskFreeRate, sigma)
}

func (p MarketParameters) WithTimeToExpiry(T float64) (MarketParameters, error) {
	return NewMarketParameters(p.spot, p.strike, T, p.riskFreeRate, p.volatility)
}

func (p MarketParameters) WithRiskFreeRate(r float64) (MarketParameters, error) {
	return NewMarketParameters(p.spot, p.strike, p.timeToExpiry, r, p.volatility)
}

func (p MarketParameters) String() string {
	return fmt.Sprintf("S=%g K=%g T=%g r=%g sigma=%g",
		p.spot, p.strike, p.timeToExpiry, p.riskFreeRate, p.volatility)
}

// discount e^{-rT}
func (p MarketParameters) discount() float64 {
	return math.Exp(-p.riskFreeRate * p.timeToExpiry)
}

// =============================================================================
// SimulationConfig 蒙特卡洛配置
// =============================================================================

const (
	// DefaultBatchSize 每个批次的路径数，批次之间检查取消信号
	DefaultBatchSize = 1024
)

// SimulationConfig 每次模拟调用创建一份，用完即弃
type SimulationConfig struct {
	PathCount int     `json:"path_count"`
	StepCount int     `json:"step_count"`
	Seed      *uint64 `json:"seed,omitempty,string"` // 为空时每次运行结果不同; 超过 2^53 时以字符串传输

	// Workers 并行 worker 数，0 表示 GOMAXPROCS
	Workers int `json:"workers,omitempty"`
	// BatchSize 每批路径数，0 表示 DefaultBatchSize
	BatchSize int `json:"batch_size,omitempty"`
}

// Validate 校验模拟配置
func (c SimulationConfig) Validate() error {
	if c.PathCount < 1 {
		return &FieldError{Err: ErrInvalidConfig, Field: "pathCount", Value: c.PathCount}
	}
	if c.StepCount < 1 {
		return &FieldError{Err: ErrInvalidConfig, Field: "stepCount", Value: c.StepCount}
	}
	if c.Workers < 0 {
		return &FieldError{Err: ErrInvalidConfig, Field: "workers", Value: c.Workers}
	}
	if c.BatchSize < 0 {
		return &FieldError{Err: ErrInvalidConfig, Field: "batchSize", Value: c.BatchSize}
	}
	return nil
}

// UnmarshalJSON 种子同时接受数字和字符串，结果中回显的字符串种子可以原样传回
func (c *SimulationConfig) UnmarshalJSON(data []byte) error {
	type plain SimulationConfig
	aux := struct {
		*plain
		Seed json.RawMessage `json:"seed"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.Seed = nil
	raw := strings.Trim(string(aux.Seed), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	seed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return &FieldError{Err: ErrInvalidConfig, Field: "seed", Value: string(aux.Seed)}
	}
	c.Seed = &seed
	return nil
}

// WithSeed 返回设置了种子的配置副本
func (c SimulationConfig) WithSeed(seed uint64) SimulationConfig {
	c.Seed = &seed
	return c
}

func (c SimulationConfig) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}

// =============================================================================
// Greeks / PricingResult 输出
// =============================================================================

// Greeks 敏感度
// Vega: 波动率变动 1.00 的价格变化; Theta: 每年; Rho: 利率变动 1.00 的价格变化
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// GreeksMode Greeks 的计算方式
type GreeksMode int8

const (
	GreeksAnalytic         GreeksMode = iota // 闭式解 (默认)
	GreeksFiniteDifference                   // 基于模拟器的有限差分
)

func (m GreeksMode) String() string {
	if m == GreeksFiniteDifference {
		return "finite-difference"
	}
	return "analytic"
}

// ParseGreeksMode 空字符串视为 analytic
func ParseGreeksMode(s string) (GreeksMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "analytic":
		return GreeksAnalytic, nil
	case "finite-difference", "fd":
		return GreeksFiniteDifference, nil
	}
	return 0, &FieldError{Err: ErrInvalidParameter, Field: "greeks", Value: s}
}

// 定价方法标识
const (
	MethodBlackScholes = "black-scholes"
	MethodMonteCarlo   = "monte-carlo"
)

// PricingResult 一次定价请求的完整结果，生成后不再修改
type PricingResult struct {
	Price float64 `json:"price"`
	Greeks

	// StandardError 只有模拟定价才有
	StandardError *float64 `json:"standard_error,omitempty"`

	Kind         OptionKind      `json:"kind"`
	Style        InstrumentStyle `json:"style"`
	Method       string          `json:"method"`
	GreeksMethod string          `json:"greeks_method"`
	PathCount    int             `json:"path_count,omitempty"`
	StepCount    int             `json:"step_count,omitempty"`
	Seed         *uint64         `json:"seed,omitempty,string"` // 模拟实际使用的种子，可用于复现
	Notes        []string        `json:"notes,omitempty"`
}
