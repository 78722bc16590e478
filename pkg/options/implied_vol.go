package options

import (
	"math"
)

const (
	ivLower         = 1e-6
	ivUpper         = 5.0
	ivInitialGuess  = 0.2 // 从 20% 开始
	ivTolerance     = 1e-8
	ivMaxIterations = 100
	ivMinVega       = 1e-10
)

// ImpliedVolatility 通过期权市场价格反推隐含波动率。
// p 的波动率字段被忽略。先用牛顿法 (按 Vega 迭代)，
// Vega 过小或跳出 [1e-6, 5] 时改用二分法。
func ImpliedVolatility(p MarketParameters, kind OptionKind, marketPrice float64) (float64, error) {
	if err := checkDomain(p, kind); err != nil {
		return 0, err
	}
	if math.IsNaN(marketPrice) || math.IsInf(marketPrice, 0) {
		return 0, &FieldError{Err: ErrInvalidParameter, Field: "marketPrice", Value: marketPrice}
	}
	if p.timeToExpiry == 0 {
		// 到期时价格与波动率无关
		return 0, &FieldError{Err: ErrNumericDomain, Field: "timeToExpiry", Value: p.timeToExpiry}
	}

	// 无套利边界: σ=0 时取下界，σ→∞ 时趋近上界
	lower, upper := priceBounds(p, kind)
	if marketPrice < lower-ivTolerance || marketPrice >= upper {
		return 0, &FieldError{Err: ErrInvalidParameter, Field: "marketPrice", Value: marketPrice}
	}
	if marketPrice <= lower+ivTolerance {
		return 0, nil
	}

	priceAt := func(sigma float64) float64 {
		q := p
		q.volatility = sigma
		v, _ := PriceEuropean(q, kind)
		return v
	}

	// 牛顿法
	sigma := ivInitialGuess
	for i := 0; i < ivMaxIterations; i++ {
		diff := priceAt(sigma) - marketPrice
		if math.Abs(diff) < ivTolerance {
			return sigma, nil
		}
		q := p
		q.volatility = sigma
		g, _ := ComputeGreeks(q, kind)
		if g.Vega < ivMinVega {
			break
		}
		next := sigma - diff/g.Vega
		if next <= ivLower || next > ivUpper || math.IsNaN(next) {
			break
		}
		sigma = next
	}

	return bisectVol(priceAt, marketPrice)
}

// bisectVol 在 [ivLower, ivUpper] 上二分，价格关于 σ 单调递增
func bisectVol(priceAt func(float64) float64, target float64) (float64, error) {
	lo, hi := ivLower, ivUpper
	if priceAt(lo) > target || priceAt(hi) < target {
		return 0, &FieldError{Err: ErrNumericDomain, Field: "marketPrice", Value: target}
	}
	for i := 0; i < 200; i++ {
		mid := 0.5 * (lo + hi)
		diff := priceAt(mid) - target
		if math.Abs(diff) < ivTolerance || hi-lo < 1e-12 {
			return mid, nil
		}
		if diff > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return 0, &FieldError{Err: ErrNumericDomain, Field: "marketPrice", Value: target}
}

// priceBounds 欧式期权的无套利价格区间
func priceBounds(p MarketParameters, kind OptionKind) (float64, float64) {
	kdf := p.strike * p.discount()
	if kind == Call {
		return math.Max(p.spot-kdf, 0), p.spot
	}
	return math.Max(kdf-p.spot, 0), kdf
}
