// 文件: pkg/options/exercise.go
// 路径收益估计器
//
// 所有估计器都把一批路径映射为 "到期时点" 的收益 (未贴现)，
// 模拟器统一乘 e^{-rT} 贴现。这样美式估计器可以随时替换，调用方不用改。

package options

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// PayoffContext 估计收益所需的合约信息
type PayoffContext struct {
	Kind   OptionKind
	Strike float64
	Rate   float64
	Dt     float64 // 单步时长 T/stepCount
	Steps  int
}

// PayoffEstimator 收益估计器
//
// paths[i] 长度为 Steps+1，paths[i][0] 为初始价格。
// out 与 paths 等长，写入每条路径在到期时点的收益。
type PayoffEstimator interface {
	Name() string
	Payoffs(paths [][]float64, c PayoffContext, out []float64)
}

// =============================================================================
// EuropeanPayoff 到期收益，用于与闭式解交叉验证
// =============================================================================

type EuropeanPayoff struct{}

func (EuropeanPayoff) Name() string { return "european-terminal" }

func (EuropeanPayoff) Payoffs(paths [][]float64, c PayoffContext, out []float64) {
	for i, path := range paths {
		out[i] = intrinsic(c.Kind, path[len(path)-1], c.Strike)
	}
}

// =============================================================================
// AsianPayoff 算术平均价期权
// =============================================================================

// AsianPayoff 均价包含初始价格在内的 Steps+1 个点
type AsianPayoff struct{}

func (AsianPayoff) Name() string { return "asian-arithmetic" }

func (AsianPayoff) Payoffs(paths [][]float64, c PayoffContext, out []float64) {
	for i, path := range paths {
		sum := 0.0
		for _, s := range path {
			sum += s
		}
		out[i] = intrinsic(c.Kind, sum/float64(len(path)), c.Strike)
	}
}

// =============================================================================
// PathwiseMaxExercise 美式期权的简化估计
// =============================================================================

// PathwiseMaxExercise 每条路径取 "事后最优" 的行权时点:
// max_j intrinsic(S_j)·e^{r(T-t_j)}，j=0..Steps (折算到到期时点)。
//
// 这是近似值，不是精确定价: 它假设持有人预知整条路径，结果偏高 (上界)。
// 精确美式定价需要格点倒推或 LSM，见 LongstaffSchwartz。
type PathwiseMaxExercise struct{}

func (PathwiseMaxExercise) Name() string { return "american-pathwise-max" }

func (PathwiseMaxExercise) Payoffs(paths [][]float64, c PayoffContext, out []float64) {
	for i, path := range paths {
		best := 0.0
		for j, s := range path {
			v := intrinsic(c.Kind, s, c.Strike)
			if v <= 0 {
				continue
			}
			v *= math.Exp(c.Rate * c.Dt * float64(c.Steps-j))
			if v > best {
				best = v
			}
		}
		out[i] = best
	}
}

// =============================================================================
// LongstaffSchwartz 最小二乘蒙特卡洛 (LSM)
// =============================================================================

// LongstaffSchwartz 在每个时间步上用 {1, x, x²} (x = S/K) 回归继续持有价值，
// 价内且内在价值高于继续价值时提前行权。
// 回归按批次进行，批次越大偏差越小。
type LongstaffSchwartz struct {
	// MinRegressionPaths 价内路径少于该值时跳过本步回归
	MinRegressionPaths int
}

func NewLongstaffSchwartz() LongstaffSchwartz {
	return LongstaffSchwartz{MinRegressionPaths: 8}
}

func (LongstaffSchwartz) Name() string { return "american-lsm" }

func (l LongstaffSchwartz) Payoffs(paths [][]float64, c PayoffContext, out []float64) {
	m := len(paths)
	if m == 0 {
		return
	}
	minPaths := l.MinRegressionPaths
	if minPaths < 3 {
		minPaths = 3
	}

	// cash[i]: 第 i 条路径在 exercise[i] 步的现金流
	cash := make([]float64, m)
	exercise := make([]int, m)
	for i, path := range paths {
		cash[i] = intrinsic(c.Kind, path[c.Steps], c.Strike)
		exercise[i] = c.Steps
	}

	itm := make([]int, 0, m)
	for t := c.Steps - 1; t >= 1; t-- {
		itm = itm[:0]
		for i, path := range paths {
			if intrinsic(c.Kind, path[t], c.Strike) > 0 {
				itm = append(itm, i)
			}
		}
		if len(itm) < minPaths {
			continue
		}

		x := mat.NewDense(len(itm), 3, nil)
		y := mat.NewVecDense(len(itm), nil)
		for row, i := range itm {
			s := paths[i][t] / c.Strike
			x.SetRow(row, []float64{1, s, s * s})
			y.SetVec(row, cash[i]*math.Exp(-c.Rate*c.Dt*float64(exercise[i]-t)))
		}

		var beta mat.VecDense
		if err := beta.SolveVec(x, y); err != nil {
			// 奇异矩阵 (例如所有价内价格相同)，本步不提前行权
			continue
		}
		b0, b1, b2 := beta.AtVec(0), beta.AtVec(1), beta.AtVec(2)

		for _, i := range itm {
			s := paths[i][t] / c.Strike
			continuation := b0 + b1*s + b2*s*s
			if now := intrinsic(c.Kind, paths[i][t], c.Strike); now > continuation {
				cash[i] = now
				exercise[i] = t
			}
		}
	}

	// t=0: 比较立即行权与继续持有的均值 (整批统一决策)
	hold := 0.0
	for i := range cash {
		hold += cash[i] * math.Exp(-c.Rate*c.Dt*float64(exercise[i]))
	}
	hold /= float64(m)
	if now := intrinsic(c.Kind, paths[0][0], c.Strike); now > hold {
		grown := now * math.Exp(c.Rate*c.Dt*float64(c.Steps))
		for i := range out {
			out[i] = grown
		}
		return
	}

	for i := range cash {
		out[i] = cash[i] * math.Exp(c.Rate*c.Dt*float64(c.Steps-exercise[i]))
	}
}
