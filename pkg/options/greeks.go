package options

import "math"

/*
Greeks 衡量期权价格对各市场因素的敏感度 (欧式, 闭式解):

Delta: 标的价格变动 1 单位时期权价格的变动量。
Gamma: 标的价格变动 1 单位时 Delta 的变动量，看涨看跌相同。
Vega:  波动率变动 1.00 (即 100 个百分点) 时期权价格的变动量，看涨看跌相同。
Theta: 时间流逝 1 年时期权价格的变动量 (通常为负)。
Rho:   利率变动 1.00 时期权价格的变动量。
*/

// ComputeGreeks 计算欧式期权的全部 Greeks。
// T=0 或 σ=0 时返回极限值: Delta 为阶跃函数，其余为 0，不报错。
func ComputeGreeks(p MarketParameters, kind OptionKind) (Greeks, error) {
	if err := checkDomain(p, kind); err != nil {
		return Greeks{}, err
	}

	if degenerate(p) {
		return Greeks{Delta: stepDelta(p, kind)}, nil
	}

	S, K, T, r, sigma := p.spot, p.strike, p.timeToExpiry, p.riskFreeRate, p.volatility
	d1, d2 := calcD1D2(p)
	sqrtT := math.Sqrt(T)
	df := p.discount()
	pdf := normPDF(d1)

	g := Greeks{
		Gamma: pdf / (S * sigma * sqrtT),
		Vega:  S * pdf * sqrtT,
	}

	// 时间衰减的公共项
	decay := -(S * pdf * sigma) / (2 * sqrtT)

	if kind == Call {
		g.Delta = normCDF(d1)
		g.Theta = decay - r*K*df*normCDF(d2)
		g.Rho = K * T * df * normCDF(d2)
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = decay + r*K*df*normCDF(-d2)
		g.Rho = -K * T * df * normCDF(-d2)
	}
	return g, nil
}

// stepDelta σ→0 或 T→0 时 Delta 的极限。
// 以贴现后的行权价判断是否价内 (T=0 时即 S>K)；看跌 = 看涨 - 1。
func stepDelta(p MarketParameters, kind OptionKind) float64 {
	call := 0.0
	if p.spot > p.strike*p.discount() {
		call = 1
	}
	if kind == Call {
		return call
	}
	return call - 1
}
