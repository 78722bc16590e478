// 文件: pkg/options/simulator.go
// 蒙特卡洛路径模拟器 (几何布朗运动)
//
// 路径按批次并行生成，每条路径使用 (seed, 路径序号) 派生的独立随机流，
// 汇总时按路径序号顺序求均值，因此同一种子下结果与 worker 数无关。

package options

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// SimulationResult 一次模拟的原始结果
type SimulationResult struct {
	Price         float64 // 贴现后的均值
	StandardError float64 // 样本标准差 / √N (已贴现)
	PathCount     int
	StepCount     int
	Estimator     string // 收益估计器名称
	Seed          uint64 // 实际使用的种子
}

// Simulator 蒙特卡洛定价器。无状态，可被多个 goroutine 并发使用
type Simulator struct {
	american PayoffEstimator
	asian    PayoffEstimator
	european PayoffEstimator
}

// SimulatorOption 模拟器选项
type SimulatorOption func(*Simulator)

// WithAmericanEstimator 替换美式期权的行权估计器 (默认 PathwiseMaxExercise)
func WithAmericanEstimator(e PayoffEstimator) SimulatorOption {
	return func(s *Simulator) {
		if e != nil {
			s.american = e
		}
	}
}

// NewSimulator 创建模拟器
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		american: PathwiseMaxExercise{},
		asian:    AsianPayoff{},
		european: EuropeanPayoff{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Estimator 返回某种行权方式使用的估计器
func (s *Simulator) Estimator(style InstrumentStyle) PayoffEstimator {
	switch style {
	case American:
		return s.american
	case Asian:
		return s.asian
	}
	return s.european
}

// Simulate 模拟 cfg.PathCount 条路径并估计期权价格。
// ctx 在批次之间检查，取消后返回 ctx.Err()，不返回部分结果。
func (s *Simulator) Simulate(ctx context.Context, p MarketParameters, kind OptionKind,
	style InstrumentStyle, cfg SimulationConfig) (SimulationResult, error) {

	if err := checkDomain(p, kind); err != nil {
		return SimulationResult{}, err
	}
	if !style.valid() {
		return SimulationResult{}, &FieldError{Err: ErrInvalidParameter, Field: "style", Value: style}
	}
	if err := cfg.Validate(); err != nil {
		return SimulationResult{}, err
	}

	seed := resolveSeed(cfg)
	gen := newPathGenerator(p, cfg.StepCount, NewPCGStreams(seed))
	est := s.Estimator(style)
	pc := PayoffContext{
		Kind:   kind,
		Strike: p.strike,
		Rate:   p.riskFreeRate,
		Dt:     gen.dt,
		Steps:  cfg.StepCount,
	}

	payoffs := make([]float64, cfg.PathCount)
	err := forEachBatch(ctx, cfg, func(lo, hi int) {
		est.Payoffs(gen.batch(lo, hi), pc, payoffs[lo:hi])
	})
	if err != nil {
		return SimulationResult{}, err
	}

	df := p.discount()
	mean, std := stat.MeanStdDev(payoffs, nil)
	stdErr := 0.0
	if cfg.PathCount > 1 {
		stdErr = df * std / math.Sqrt(float64(cfg.PathCount))
	}

	return SimulationResult{
		Price:         df * mean,
		StandardError: stdErr,
		PathCount:     cfg.PathCount,
		StepCount:     cfg.StepCount,
		Estimator:     est.Name(),
		Seed:          seed,
	}, nil
}

// SamplePaths 生成前 n 条价格路径 (用于画图)。
// 与 Simulate 使用相同的随机流，同一种子下第 i 条路径与定价时完全一致。
func (s *Simulator) SamplePaths(ctx context.Context, p MarketParameters, cfg SimulationConfig, n int) ([][]float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if n < 1 || n > cfg.PathCount {
		return nil, &FieldError{Err: ErrInvalidConfig, Field: "sampleCount", Value: n}
	}
	if p.spot <= 0 {
		return nil, &FieldError{Err: ErrNumericDomain, Field: "spot", Value: p.spot}
	}

	gen := newPathGenerator(p, cfg.StepCount, NewPCGStreams(resolveSeed(cfg)))
	out := make([][]float64, n)
	cfg.PathCount = n
	err := forEachBatch(ctx, cfg, func(lo, hi int) {
		copy(out[lo:hi], gen.batch(lo, hi))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resolveSeed(cfg SimulationConfig) uint64 {
	if cfg.Seed != nil {
		return *cfg.Seed
	}
	return freshSeed()
}

// =============================================================================
// 批次调度
// =============================================================================

// forEachBatch 把 [0, PathCount) 切成批次并行执行 fn。
// 每个批次写入互不重叠的下标区间，调用方无需加锁。
func forEachBatch(ctx context.Context, cfg SimulationConfig, fn func(lo, hi int)) error {
	n := cfg.PathCount
	size := cfg.batchSize()
	batches := (n + size - 1) / size

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > batches {
		workers = batches
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for b := 0; b < batches; b++ {
		if gctx.Err() != nil {
			break
		}
		lo, hi := b*size, min((b+1)*size, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// 循环可能因取消提前退出而没有 goroutine 报错
	return ctx.Err()
}

// =============================================================================
// pathGenerator 几何布朗运动
// =============================================================================

// S_{t+Δt} = S_t · exp((r - σ²/2)Δt + σ√Δt·Z)
type pathGenerator struct {
	spot    float64
	steps   int
	dt      float64
	drift   float64
	diffuse float64
	streams StreamFactory
}

func newPathGenerator(p MarketParameters, steps int, streams StreamFactory) pathGenerator {
	dt := p.timeToExpiry / float64(steps)
	sigma := p.volatility
	return pathGenerator{
		spot:    p.spot,
		steps:   steps,
		dt:      dt,
		drift:   (p.riskFreeRate - 0.5*sigma*sigma) * dt,
		diffuse: sigma * math.Sqrt(dt),
		streams: streams,
	}
}

// batch 生成 [lo, hi) 号路径，每条长度 steps+1
func (g pathGenerator) batch(lo, hi int) [][]float64 {
	buf := make([]float64, (hi-lo)*(g.steps+1))
	paths := make([][]float64, hi-lo)
	for i := range paths {
		path := buf[i*(g.steps+1) : (i+1)*(g.steps+1) : (i+1)*(g.steps+1)]
		g.fill(path, g.streams.Stream(lo+i))
		paths[i] = path
	}
	return paths
}

func (g pathGenerator) fill(path []float64, z NormalSource) {
	path[0] = g.spot
	for j := 1; j <= g.steps; j++ {
		path[j] = path[j-1] * math.Exp(g.drift+g.diffuse*z.NormFloat64())
	}
}
