package engine

import (
	"time"

	"mexc-signals/internal/classifier"
	"mexc-signals/internal/indicator"
	"mexc-signals/internal/micrometrics"
	"mexc-signals/internal/sentiment"
)

// ScalpMetrics 为1分钟微观指标附加信息，缺数据时带独立标志。
type ScalpMetrics struct {
	ATR1m      float64
	HasATR     bool
	Profile    micrometrics.Profile
	HasProfile bool
}

// Snapshot 为一次信号请求的完整输出。
// Gaps 列出本次未能覆盖的周期，调用方据此判断快照完整度。
type Snapshot struct {
	Symbol     string
	Signal     classifier.Signal
	Timeframes map[string]indicator.Report
	Gaps       []string
	Sentiment  sentiment.Summary
	Scalp      ScalpMetrics
	CreatedAt  time.Time
}

// Analysis 为多周期指标分析结果。
type Analysis struct {
	Symbol      string
	Reports     map[string]indicator.Report
	Gaps        []string
	RetrievedAt time.Time
}

// trends 提取各周期的方向判定，供分类器使用。
func (a *Analysis) trends() map[string]indicator.Trend {
	result := make(map[string]indicator.Trend, len(a.Reports))
	for timeframe, report := range a.Reports {
		result[timeframe] = report.Trend
	}
	return result
}
