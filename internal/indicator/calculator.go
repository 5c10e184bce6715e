package indicator

import (
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"mexc-signals/internal/market"
)

// neutralRSI 为数据不足或无下跌动量时的RSI中性值。
const neutralRSI = 50.0

// Value 为单个指标的三态结果。
// Valid 为 false 表示数据不足，调用方必须把它当作缺口而不是数值零。
type Value struct {
	V     float64
	Valid bool
}

// Unavailable 返回缺数据结果。
func Unavailable() Value {
	return Value{}
}

// Present 返回有效结果。
func Present(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{V: v, Valid: true}
}

// Report 为单个周期的指标汇总。
type Report struct {
	Timeframe string
	Trend     Trend
	EMA12     Value
	EMA26     Value
	RSI       Value
	ATR       Value
	Close     float64
	BarCount  int
}

type cacheEntry struct {
	key    string
	report Report
}

// Calculator 提供技术指标计算并带有简单缓存。
// 缓存键包含最新K线时间戳，同一根K线内的重复请求不重算。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算指定周期的指标汇总。
func (c *Calculator) Compute(symbol, timeframe string, candles []market.Candle) (Report, error) {
	if len(candles) == 0 {
		return Report{}, fmt.Errorf("计算指标失败: 输入K线为空")
	}

	series := NewSeries(candles)
	slot := symbol + ":" + timeframe
	cacheKey := fmt.Sprintf("%s:%d:%d", slot, series.Len(), series.Timestamps[series.Len()-1].Unix())

	c.mu.Lock()
	if entry, ok := c.cache[slot]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.report, nil
	}
	c.mu.Unlock()

	report := c.calculate(timeframe, series)

	c.mu.Lock()
	c.cache[slot] = cacheEntry{key: cacheKey, report: report}
	c.mu.Unlock()

	return report, nil
}

func (c *Calculator) calculate(timeframe string, series Series) Report {
	ema12 := EMA(series.Close, 12)
	ema26 := EMA(series.Close, 26)
	rsi := RSI(series.Close, 14)
	atr := ATR(series.High, series.Low, series.Close, 14)

	report := Report{
		Timeframe: timeframe,
		EMA12:     ema12,
		EMA26:     ema26,
		RSI:       rsi,
		ATR:       atr,
		Close:     Last(series.Close),
		BarCount:  series.Len(),
	}
	report.Trend = deriveTrend(ema12, ema26, rsi)

	return report
}

// EMA 计算指数移动平均，最少需要 period 根K线。
// 种子为前 period 个收盘价的简单均值，之后按 k=2/(period+1) 递推。
func EMA(closes []float64, period int) Value {
	if period <= 0 || len(closes) < period {
		return Unavailable()
	}
	return Present(Last(talib.Ema(closes, period)))
}

// RSI 按 Wilder 平滑计算相对强弱指数，最少需要 period+1 根K线。
// 数据不足或平均跌幅为零时返回中性值50，避免除零与伪极值。
func RSI(closes []float64, period int) Value {
	if period <= 0 {
		return Unavailable()
	}
	if len(closes) < period+1 {
		return Present(neutralRSI)
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return Present(neutralRSI)
	}

	rs := avgGain / avgLoss
	return Present(100 - 100/(1+rs))
}

// ATR 计算平均真实波幅，最少需要 period+1 根K线。
func ATR(highs, lows, closes []float64, period int) Value {
	if period <= 0 || len(closes) < period+1 {
		return Unavailable()
	}
	return Present(Last(talib.Atr(highs, lows, closes, period)))
}
