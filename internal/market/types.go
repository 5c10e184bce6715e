package market

import (
	"math"
	"time"
)

const (
	// Timeframe5m 为最小决策周期。
	Timeframe5m = "5m"
	// Timeframe15m 为短线确认周期。
	Timeframe15m = "15m"
	// Timeframe30m 为中线确认周期。
	Timeframe30m = "30m"
	// Timeframe1h 为主决策周期。
	Timeframe1h = "1h"
	// Timeframe4h 为趋势过滤周期。
	Timeframe4h = "4h"
)

// DefaultTimeframes 返回多周期分析采用的默认周期集合。
func DefaultTimeframes() []string {
	return []string{Timeframe5m, Timeframe15m, Timeframe30m, Timeframe1h, Timeframe4h}
}

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// TrueRange 计算相对前收盘价的真实波幅。
func (c Candle) TrueRange(prevClose float64) float64 {
	hl := c.High - c.Low
	hc := math.Abs(c.High - prevClose)
	lc := math.Abs(c.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// TickerStats 为合约24小时行情统计。
type TickerStats struct {
	Symbol         string
	LastPrice      float64
	QuoteVolume24h float64
	PriceChangePct float64
	Timestamp      time.Time
}

// FundingRate 为当前资金费率。
type FundingRate struct {
	Symbol          string
	Rate            float64
	NextFundingTime time.Time
	Timestamp       time.Time
}

// OpenInterest 为未平仓合约量快照。
type OpenInterest struct {
	Symbol    string
	Amount    float64
	Value     float64
	Timestamp time.Time
}

// MultiTimeframeSnapshot 聚合同一交易对的多周期K线。
// Frames 只包含成功获取的周期，失败周期记录在 Gaps 中。
type MultiTimeframeSnapshot struct {
	Symbol      string
	Frames      map[string][]Candle
	Gaps        map[string]error
	RetrievedAt time.Time
}

// Complete 判断快照是否覆盖了全部请求周期。
func (s MultiTimeframeSnapshot) Complete() bool {
	return len(s.Gaps) == 0
}

// SnapshotRequest 控制一次多周期采集的参数。
type SnapshotRequest struct {
	Symbol     string
	Timeframes []string
	Limit      int
}

// DefaultSnapshotRequest 返回默认采集参数。
func DefaultSnapshotRequest(symbol string) SnapshotRequest {
	return SnapshotRequest{
		Symbol:     symbol,
		Timeframes: DefaultTimeframes(),
		Limit:      50,
	}
}
