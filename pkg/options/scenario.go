package options

// Shock 一个情景: 标的价格与波动率的相对变化。
// 例如 SpotChange=0.05 表示价格上升 5%，VolChange=-0.2 表示波动率下降 20%。
type Shock struct {
	SpotChange float64 `json:"spot_change"`
	VolChange  float64 `json:"vol_change"`
}

// ScenarioResult 单个情景下的欧式价格
type ScenarioResult struct {
	Shock
	Spot       float64 `json:"spot"`
	Volatility float64 `json:"volatility"`
	Price      float64 `json:"price"`
	Change     float64 `json:"change"` // 相对基准价格的变化
}

// Scenarios 用于模拟不同标的资产价格和波动率情景下期权价格的变化。
// 结果顺序与 shocks 一致；任一情景参数非法时整体返回错误。
func Scenarios(p MarketParameters, kind OptionKind, shocks []Shock) ([]ScenarioResult, error) {
	base, err := PriceEuropean(p, kind)
	if err != nil {
		return nil, err
	}

	out := make([]ScenarioResult, 0, len(shocks))
	for _, s := range shocks {
		shocked, err := NewMarketParameters(
			p.spot*(1+s.SpotChange),
			p.strike,
			p.timeToExpiry,
			p.riskFreeRate,
			p.volatility*(1+s.VolChange),
		)
		if err != nil {
			return nil, err
		}
		price, err := PriceEuropean(shocked, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, ScenarioResult{
			Shock:      s,
			Spot:       shocked.spot,
			Volatility: shocked.volatility,
			Price:      price,
			Change:     price - base,
		})
	}
	return out, nil
}
