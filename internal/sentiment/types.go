package sentiment

import "time"

// PairMarket 为 pairs-markets 接口中单个交易所的合约行情条目。
type PairMarket struct {
	ExchangeName           string  `json:"exchangeName"`
	Symbol                 string  `json:"symbol"`
	Price                  float64 `json:"price"`
	FundingRate            float64 `json:"fundingRate"`
	NextFundingTime        int64   `json:"nextFundingTime"`
	OpenInterest           float64 `json:"openInterest"`
	OpenInterestChange24h  float64 `json:"openInterestChange24h"`
	LongRate               float64 `json:"longRate"`
	LongShortRatio         float64 `json:"longShortRatio"`
	Volume24h              float64 `json:"volUsd"`
	LongLiquidationUsd24h  float64 `json:"longLiquidationUsd24h"`
	ShortLiquidationUsd24h float64 `json:"shortLiquidationUsd24h"`
}

// Ratio 为多空比率观测。
type Ratio struct {
	LongRate  float64
	ShortRate float64
	Ratio     float64
	Range     string
	Timestamp time.Time
}

// Liquidations 为24小时清算聚合。
type Liquidations struct {
	LongUsd  float64
	ShortUsd float64
}

// IndexReading 为市场恐惧贪婪指数读数。
type IndexReading struct {
	Value          float64
	Classification string
	Timestamp      time.Time
}

// Summary 为信号分类所需的情绪汇总。
// 每项指标带独立的存在标志，单项缺失不等于整体失败。
type Summary struct {
	Symbol string

	FundingRate    float64
	HasFundingRate bool

	OpenInterest    float64
	OIChangePct24h  float64
	HasOpenInterest bool

	LongRate   float64
	ShortRate  float64
	RatioRange string
	HasRatio   bool

	Liquidations    Liquidations
	HasLiquidations bool

	FearGreed    IndexReading
	HasFearGreed bool

	RetrievedAt time.Time
}
