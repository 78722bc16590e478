package options

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

/*
Black-Scholes 闭式定价 (无分红, 对数正态扩散)

	d1 = [ln(S/K) + (r + σ²/2)T] / (σ√T)
	d2 = d1 - σ√T
	Call = S·N(d1) - K·e^{-rT}·N(d2)
	Put  = K·e^{-rT}·N(-d2) - S·N(-d1)

T=0 或 σ=0 时 d1 无定义，走确定性分支。
*/

// PriceEuropean 计算欧式期权的 Black-Scholes 价格
func PriceEuropean(p MarketParameters, kind OptionKind) (float64, error) {
	if err := checkDomain(p, kind); err != nil {
		return 0, err
	}

	S, K, T := p.spot, p.strike, p.timeToExpiry

	// 到期时: 内在价值
	if T == 0 {
		return intrinsic(kind, S, K), nil
	}

	// 波动率为 0: 价格是确定的
	// max(S·e^{rT} - K, 0)·e^{-rT} = max(S - K·e^{-rT}, 0)
	if p.volatility == 0 {
		return intrinsic(kind, S, K*p.discount()), nil
	}

	d1, d2 := calcD1D2(p)
	df := p.discount()
	if kind == Call {
		return S*normCDF(d1) - K*df*normCDF(d2), nil
	}
	return K*df*normCDF(-d2) - S*normCDF(-d1), nil
}

// checkDomain 兜底检查。MarketParameters 构造时已经保证，这里只防零值结构体
func checkDomain(p MarketParameters, kind OptionKind) error {
	if p.spot <= 0 {
		return &FieldError{Err: ErrNumericDomain, Field: "spot", Value: p.spot}
	}
	if p.strike <= 0 {
		return &FieldError{Err: ErrNumericDomain, Field: "strike", Value: p.strike}
	}
	if !kind.valid() {
		return &FieldError{Err: ErrInvalidParameter, Field: "kind", Value: kind}
	}
	return nil
}

// degenerate T=0 或 σ=0 时闭式公式不可用
func degenerate(p MarketParameters) bool {
	return p.timeToExpiry == 0 || p.volatility == 0
}

// calcD1D2 调用方保证 T>0 且 σ>0
func calcD1D2(p MarketParameters) (float64, float64) {
	volSqrtT := p.volatility * math.Sqrt(p.timeToExpiry)
	d1 := (math.Log(p.spot/p.strike) + (p.riskFreeRate+0.5*p.volatility*p.volatility)*p.timeToExpiry) / volSqrtT
	return d1, d1 - volSqrtT
}

// intrinsic 内在价值
func intrinsic(kind OptionKind, S, K float64) float64 {
	if kind == Call {
		return math.Max(S-K, 0)
	}
	return math.Max(K-S, 0)
}

// normCDF 标准正态分布的 CDF
func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normPDF 标准正态分布的 PDF
func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}
