// 文件: cmd/simulation/main.go
// 蒙特卡洛收敛演示: 同一组参数下逐步增加路径数，对比闭式解，
// 然后给出美式 / 亚式的模拟价格和情景分析。
//
// 用法:
//
//	simulation -spot 100 -strike 100 -T 1 -r 0.05 -sigma 0.2 -kind put -seed 42
//
// 未指定 -paths / -steps 时使用配置文件 (或 PRICER_ 环境变量) 中的模拟默认值。
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/config"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/logger"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/options"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		spot       = flag.Float64("spot", 100, "spot price")
		strike     = flag.Float64("strike", 100, "strike price")
		expiry     = flag.Float64("T", 1, "time to expiry in years")
		rate       = flag.Float64("r", 0.05, "risk-free rate (continuous)")
		sigma      = flag.Float64("sigma", 0.2, "volatility")
		kindFlag   = flag.String("kind", "call", "call or put")
		paths      = flag.Int("paths", 0, "max path count (default: simulation.path_count)")
		steps      = flag.Int("steps", 0, "time steps (default: simulation.step_count)")
		seed       = flag.Uint64("seed", 42, "rng seed")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *paths <= 0 {
		*paths = cfg.Simulation.PathCount
	}
	if *steps <= 0 {
		*steps = cfg.Simulation.StepCount
	}

	kind, err := options.ParseOptionKind(*kindFlag)
	if err != nil {
		log.Fatal("bad -kind", zap.Error(err))
	}
	p, err := options.NewMarketParameters(*spot, *strike, *expiry, *rate, *sigma)
	if err != nil {
		log.Fatal("bad market parameters", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var engineOpts []options.SimulatorOption
	if cfg.Simulation.Estimator == config.EstimatorLSM {
		engineOpts = append(engineOpts, options.WithAmericanEstimator(options.NewLongstaffSchwartz()))
	}
	engine := options.NewEngine(engineOpts...)

	base := options.SimulationConfig{
		StepCount: *steps,
		Workers:   cfg.Simulation.Workers,
		BatchSize: cfg.Simulation.BatchSize,
	}.WithSeed(*seed)

	log.Info("market", zap.Stringer("params", p), zap.Stringer("kind", kind),
		zap.Int("steps", *steps), zap.Uint64("seed", *seed))

	// 1. 闭式解
	// -------------------------------------------------------------------------
	bs, err := engine.Price(p, kind)
	if err != nil {
		log.Fatal("black-scholes", zap.Error(err))
	}
	fmt.Printf("\nBlack-Scholes %s: %.6f  delta=%.4f gamma=%.4f vega=%.4f theta=%.4f rho=%.4f\n\n",
		kind, bs.Price, bs.Delta, bs.Gamma, bs.Vega, bs.Theta, bs.Rho)

	// 2. 欧式蒙特卡洛收敛
	// -------------------------------------------------------------------------
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "paths\tprice\tstd err\t|error|\terror/se\telapsed\t")
	for n := 1000; n <= *paths; n *= 4 {
		sc := base
		sc.PathCount = n
		start := time.Now()
		res, err := engine.SimulatePrice(ctx, p, kind, options.European, sc)
		if err != nil {
			log.Fatal("simulate european", zap.Int("paths", n), zap.Error(err))
		}
		diff := math.Abs(res.Price - bs.Price)
		ratio := math.NaN()
		if *res.StandardError > 0 {
			ratio = diff / *res.StandardError
		}
		fmt.Fprintf(tw, "%d\t%.6f\t%.6f\t%.6f\t%.2f\t%s\t\n",
			n, res.Price, *res.StandardError, diff, ratio, time.Since(start).Round(time.Millisecond))
	}
	tw.Flush()

	// 3. 美式 / 亚式
	// -------------------------------------------------------------------------
	fmt.Println()
	full := base
	full.PathCount = *paths
	for _, style := range []options.InstrumentStyle{options.American, options.Asian} {
		res, err := engine.Quote(ctx, options.Request{Params: p, Kind: kind, Style: style, Simulation: &full})
		if err != nil {
			log.Fatal("simulate", zap.Stringer("style", style), zap.Error(err))
		}
		fmt.Printf("%-9s %s: %.6f ± %.6f\n", style, kind, res.Price, *res.StandardError)
		for _, note := range res.Notes {
			fmt.Printf("          - %s\n", note)
		}
	}

	// 4. 情景分析
	// -------------------------------------------------------------------------
	fmt.Println()
	shocks := []options.Shock{
		{SpotChange: -0.05}, {SpotChange: 0.05},
		{VolChange: -0.2}, {VolChange: 0.2},
	}
	scenarios, err := options.Scenarios(p, kind, shocks)
	if err != nil {
		log.Fatal("scenarios", zap.Error(err))
	}
	tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "spot shock\tvol shock\tspot\tvol\tprice\tchange\t")
	for _, s := range scenarios {
		fmt.Fprintf(tw, "%+.0f%%\t%+.0f%%\t%.2f\t%.4f\t%.4f\t%+.4f\t\n",
			s.SpotChange*100, s.VolChange*100, s.Spot, s.Volatility, s.Price, s.Change)
	}
	tw.Flush()
}
