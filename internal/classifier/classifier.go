package classifier

import (
	"math"
	"time"

	"mexc-signals/internal/config"
	"mexc-signals/internal/indicator"
	"mexc-signals/internal/sentiment"
)

// Label 为信号分类结果。
type Label string

const (
	LabelLong  Label = "LONG"
	LabelShort Label = "SHORT"
	LabelWait  Label = "WAIT"
)

// 置信度构成权重与缺失惩罚。总分限制在[0,1]。
const (
	weightQuorum  = 0.5
	weightFunding = 0.25
	weightOIDelta = 0.25

	missingInputPenalty = 0.1
)

// Input 为一次分类的全部输入。
type Input struct {
	Symbol    string
	Trends    map[string]indicator.Trend
	Gaps      []string
	Sentiment sentiment.Summary
}

// Factors 记录分类决策的中间量，随信号一起输出便于追溯。
type Factors struct {
	Bullish       int
	Bearish       int
	Neutral       int
	Gaps          int
	FundingRate   float64
	LongRate      float64
	ShortRate     float64
	OIChangePct   float64
	FearGreed     float64
	MissingInputs []string
}

// Signal 为分类输出。
type Signal struct {
	Symbol     string
	Label      Label
	Confidence float64
	Factors    Factors
	CreatedAt  time.Time
}

// Classifier 把多周期趋势与情绪指标融合为方向信号。
// 无跨次状态，每次 Classify 只依赖传入数据。
type Classifier struct {
	cfg config.EngineConfig
}

// New 创建分类器。
func New(cfg config.EngineConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify 按固定优先级输出 LONG/SHORT/WAIT。
// 情绪指标缺失只降低置信度，不会让分类失败。
func (c *Classifier) Classify(input Input) Signal {
	factors := Factors{Gaps: len(input.Gaps)}

	for _, trend := range input.Trends {
		switch trend {
		case indicator.TrendBullish:
			factors.Bullish++
		case indicator.TrendBearish:
			factors.Bearish++
		default:
			factors.Neutral++
		}
	}

	s := input.Sentiment
	if s.HasFundingRate {
		factors.FundingRate = s.FundingRate
	} else {
		factors.MissingInputs = append(factors.MissingInputs, "funding_rate")
	}
	if s.HasRatio {
		factors.LongRate = s.LongRate
		factors.ShortRate = s.ShortRate
	} else {
		factors.MissingInputs = append(factors.MissingInputs, "long_short_ratio")
	}
	if s.HasOpenInterest {
		factors.OIChangePct = s.OIChangePct24h
	} else {
		factors.MissingInputs = append(factors.MissingInputs, "open_interest")
	}
	if s.HasFearGreed {
		factors.FearGreed = s.FearGreed.Value
	} else {
		factors.MissingInputs = append(factors.MissingInputs, "fear_greed")
	}

	label := LabelWait
	switch {
	case factors.Bullish >= c.cfg.QuorumSize &&
		s.HasFundingRate && s.FundingRate >= 0 &&
		s.HasRatio && s.ShortRate > c.cfg.RatioThreshold &&
		s.HasOpenInterest && s.OIChangePct24h > 0:
		label = LabelLong

	case factors.Bearish >= c.cfg.QuorumSize &&
		s.HasFundingRate && s.FundingRate <= 0 &&
		s.HasRatio && s.LongRate > c.cfg.RatioThreshold &&
		s.HasOpenInterest && s.OIChangePct24h < 0:
		label = LabelShort
	}

	return Signal{
		Symbol:     input.Symbol,
		Label:      label,
		Confidence: c.confidence(factors, s),
		Factors:    factors,
		CreatedAt:  time.Now().UTC(),
	}
}

// confidence 由周期共识强度、资金费率偏离和未平仓量变化幅度构成，
// 每缺失一项情绪输入扣固定惩罚，最终限制在[0,1]。
func (c *Classifier) confidence(factors Factors, s sentiment.Summary) float64 {
	total := len(c.cfg.Timeframes)
	if total == 0 {
		return 0
	}

	aligned := factors.Bullish
	if factors.Bearish > aligned {
		aligned = factors.Bearish
	}
	score := weightQuorum * float64(aligned) / float64(total)

	if s.HasFundingRate && c.cfg.FundingThreshold > 0 {
		score += weightFunding * math.Min(math.Abs(s.FundingRate)/c.cfg.FundingThreshold, 1)
	}
	if s.HasOpenInterest && c.cfg.OIChangeThreshold > 0 {
		score += weightOIDelta * math.Min(math.Abs(s.OIChangePct24h)/c.cfg.OIChangeThreshold, 1)
	}

	score -= float64(len(factors.MissingInputs)) * missingInputPenalty

	return math.Max(0, math.Min(1, score))
}
