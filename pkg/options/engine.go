// 文件: pkg/options/engine.go
// 定价门面: 按行权方式把请求路由到闭式解或蒙特卡洛，组装 PricingResult

package options

import (
	"context"
	"fmt"
	"math"
)

// Request 一次完整定价请求
type Request struct {
	Params MarketParameters
	Kind   OptionKind
	Style  InstrumentStyle

	// Simulation 美式 / 亚式必填，欧式忽略
	Simulation *SimulationConfig
	// GreeksMode 只对模拟定价生效
	GreeksMode GreeksMode
}

// Engine 定价引擎
type Engine struct {
	sim *Simulator
}

// NewEngine 创建定价引擎，opts 透传给内部模拟器
func NewEngine(opts ...SimulatorOption) *Engine {
	return &Engine{sim: NewSimulator(opts...)}
}

// Price 欧式期权闭式定价 + Greeks
func (e *Engine) Price(p MarketParameters, kind OptionKind) (PricingResult, error) {
	price, err := PriceEuropean(p, kind)
	if err != nil {
		return PricingResult{}, err
	}
	g, err := ComputeGreeks(p, kind)
	if err != nil {
		return PricingResult{}, err
	}
	return PricingResult{
		Price:        price,
		Greeks:       g,
		Kind:         kind,
		Style:        European,
		Method:       MethodBlackScholes,
		GreeksMethod: GreeksAnalytic.String(),
	}, nil
}

// Greeks 欧式闭式 Greeks
func (e *Engine) Greeks(p MarketParameters, kind OptionKind) (Greeks, error) {
	return ComputeGreeks(p, kind)
}

// SimulatePrice 蒙特卡洛定价，Greeks 取欧式闭式解。
// style 可以是 European，用于与 Price 交叉验证。
func (e *Engine) SimulatePrice(ctx context.Context, p MarketParameters, kind OptionKind,
	style InstrumentStyle, cfg SimulationConfig) (PricingResult, error) {
	return e.simulated(ctx, p, kind, style, cfg, GreeksAnalytic)
}

// Quote 按行权方式路由:
//   - European: 闭式解，忽略模拟配置
//   - American / Asian: 蒙特卡洛，缺少模拟配置时返回 ErrMissingConfig
func (e *Engine) Quote(ctx context.Context, req Request) (PricingResult, error) {
	if err := checkDomain(req.Params, req.Kind); err != nil {
		return PricingResult{}, err
	}
	if !req.Style.valid() {
		return PricingResult{}, &FieldError{Err: ErrInvalidParameter, Field: "style", Value: req.Style}
	}

	if req.Style == European {
		res, err := e.Price(req.Params, req.Kind)
		if err != nil {
			return PricingResult{}, err
		}
		if req.GreeksMode == GreeksFiniteDifference {
			res.Notes = append(res.Notes, "finite-difference greeks apply to simulated styles only; closed form used")
		}
		return res, nil
	}

	if req.Simulation == nil {
		return PricingResult{}, &FieldError{Err: ErrMissingConfig, Field: "simulation", Value: req.Style}
	}
	return e.simulated(ctx, req.Params, req.Kind, req.Style, *req.Simulation, req.GreeksMode)
}

// SamplePaths 见 Simulator.SamplePaths
func (e *Engine) SamplePaths(ctx context.Context, p MarketParameters, cfg SimulationConfig, n int) ([][]float64, error) {
	return e.sim.SamplePaths(ctx, p, cfg, n)
}

func (e *Engine) simulated(ctx context.Context, p MarketParameters, kind OptionKind,
	style InstrumentStyle, cfg SimulationConfig, mode GreeksMode) (PricingResult, error) {

	// 有限差分需要所有 bump 共用同一组随机数
	if cfg.Seed == nil {
		cfg = cfg.WithSeed(freshSeed())
	}

	sim, err := e.sim.Simulate(ctx, p, kind, style, cfg)
	if err != nil {
		return PricingResult{}, err
	}

	stdErr := sim.StandardError
	seed := sim.Seed
	res := PricingResult{
		Price:         sim.Price,
		StandardError: &stdErr,
		Kind:          kind,
		Style:         style,
		Method:        MethodMonteCarlo,
		PathCount:     sim.PathCount,
		StepCount:     sim.StepCount,
		Seed:          &seed,
	}

	if style == American {
		res.Notes = append(res.Notes, fmt.Sprintf("early exercise estimated by %s", sim.Estimator))
		if _, ok := e.sim.Estimator(American).(PathwiseMaxExercise); ok {
			res.Notes = append(res.Notes, "pathwise-max exercise assumes perfect foresight and overstates the price")
		}
	}
	if sim.PathCount == 1 {
		res.Notes = append(res.Notes, "standard error undefined for a single path; reported as 0")
	}

	switch mode {
	case GreeksFiniteDifference:
		g, err := e.finiteDifference(ctx, p, kind, style, cfg, sim.Price)
		if err != nil {
			return PricingResult{}, err
		}
		res.Greeks = g
		res.GreeksMethod = GreeksFiniteDifference.String()
	default:
		g, err := ComputeGreeks(p, kind)
		if err != nil {
			return PricingResult{}, err
		}
		res.Greeks = g
		res.GreeksMethod = GreeksAnalytic.String()
		if style != European {
			res.Notes = append(res.Notes,
				fmt.Sprintf("greeks use the european closed form and only approximate the %s contract", style))
		}
	}
	return res, nil
}

// =============================================================================
// 有限差分 Greeks (共同随机数)
// =============================================================================

const (
	fdSpotBump = 0.01      // 相对 bump: 1% 标的价格
	fdVolBump  = 0.01      // 绝对 bump: 1 个波动率百分点
	fdRateBump = 1e-4      // 绝对 bump: 1bp
	fdTimeBump = 1.0 / 365 // 一天
)

// finiteDifference 对 S / σ / r / T 做 bump 后重新模拟。
// cfg.Seed 已固定，每次模拟使用相同的随机数，差分噪声远小于独立抽样。
func (e *Engine) finiteDifference(ctx context.Context, p MarketParameters, kind OptionKind,
	style InstrumentStyle, cfg SimulationConfig, base float64) (Greeks, error) {

	value := func(q MarketParameters, err error) (float64, error) {
		if err != nil {
			return 0, err
		}
		r, err := e.sim.Simulate(ctx, q, kind, style, cfg)
		return r.Price, err
	}

	var g Greeks

	// Delta / Gamma: 中心差分
	hS := p.spot * fdSpotBump
	up, err := value(p.WithSpot(p.spot + hS))
	if err != nil {
		return Greeks{}, err
	}
	down, err := value(p.WithSpot(p.spot - hS))
	if err != nil {
		return Greeks{}, err
	}
	g.Delta = (up - down) / (2 * hS)
	g.Gamma = (up - 2*base + down) / (hS * hS)

	// Vega: σ 太小时退化为前向差分
	if p.volatility >= fdVolBump {
		up, err = value(p.WithVolatility(p.volatility + fdVolBump))
		if err != nil {
			return Greeks{}, err
		}
		down, err = value(p.WithVolatility(p.volatility - fdVolBump))
		if err != nil {
			return Greeks{}, err
		}
		g.Vega = (up - down) / (2 * fdVolBump)
	} else {
		up, err = value(p.WithVolatility(p.volatility + fdVolBump))
		if err != nil {
			return Greeks{}, err
		}
		g.Vega = (up - base) / fdVolBump
	}

	// Rho
	up, err = value(p.WithRiskFreeRate(p.riskFreeRate + fdRateBump))
	if err != nil {
		return Greeks{}, err
	}
	down, err = value(p.WithRiskFreeRate(p.riskFreeRate - fdRateBump))
	if err != nil {
		return Greeks{}, err
	}
	g.Rho = (up - down) / (2 * fdRateBump)

	// Theta: 时间流逝即 T 减少
	if p.timeToExpiry > 0 {
		hT := math.Min(fdTimeBump, p.timeToExpiry)
		later, err := value(p.WithTimeToExpiry(p.timeToExpiry - hT))
		if err != nil {
			return Greeks{}, err
		}
		g.Theta = (later - base) / hT
	}
	return g, nil
}
