package indicator

// Trend 为单个周期的方向判定。
type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendNeutral Trend = "NEUTRAL"
)

// deriveTrend 由 EMA12/26 交叉与RSI区间共同判定方向。
// 任一EMA不可用时不猜方向，一律返回中性。
func deriveTrend(ema12, ema26, rsi Value) Trend {
	if !ema12.Valid || !ema26.Valid {
		return TrendNeutral
	}

	rsiValue := neutralRSI
	if rsi.Valid {
		rsiValue = rsi.V
	}

	switch {
	case ema12.V > ema26.V && rsiValue > neutralRSI:
		return TrendBullish
	case ema12.V < ema26.V && rsiValue < neutralRSI:
		return TrendBearish
	default:
		return TrendNeutral
	}
}
