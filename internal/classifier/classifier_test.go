package classifier

import (
	"testing"
	"time"

	"mexc-signals/internal/config"
	"mexc-signals/internal/indicator"
	"mexc-signals/internal/sentiment"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Timeframes:        []string{"5m", "15m", "30m", "1h", "4h"},
		CandleLimit:       50,
		Cooldown:          5 * time.Minute,
		QuorumSize:        3,
		FundingThreshold:  0.01,
		RatioThreshold:    0.6,
		OIChangeThreshold: 0.05,
	}
}

func bullishSentiment() sentiment.Summary {
	return sentiment.Summary{
		FundingRate:     0.0005,
		HasFundingRate:  true,
		OIChangePct24h:  0.08,
		HasOpenInterest: true,
		LongRate:        0.35,
		ShortRate:       0.65,
		HasRatio:        true,
		FearGreed:       sentiment.IndexReading{Value: 62, Classification: "Greed"},
		HasFearGreed:    true,
	}
}

func trends(labels ...indicator.Trend) map[string]indicator.Trend {
	frames := []string{"5m", "15m", "30m", "1h", "4h"}
	result := make(map[string]indicator.Trend, len(labels))
	for i, l := range labels {
		result[frames[i]] = l
	}
	return result
}

func TestClassify_QuorumLong(t *testing.T) {
	c := New(testEngineConfig())

	// 恰好3个看多周期 + 非负资金费率 + 空头占比超阈值 + OI正增长 ⇒ LONG。
	signal := c.Classify(Input{
		Symbol:    "BTCUSDT",
		Trends:    trends(indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish, indicator.TrendNeutral, indicator.TrendBearish),
		Sentiment: bullishSentiment(),
	})

	if signal.Label != LabelLong {
		t.Fatalf("expected LONG, got %s (factors: %+v)", signal.Label, signal.Factors)
	}
	if signal.Factors.Bullish != 3 || signal.Factors.Bearish != 1 {
		t.Errorf("unexpected trend counts: %+v", signal.Factors)
	}
	if signal.Confidence <= 0 || signal.Confidence > 1 {
		t.Errorf("confidence out of bounds: %f", signal.Confidence)
	}
}

func TestClassify_BelowQuorumWaits(t *testing.T) {
	c := New(testEngineConfig())

	// 只有2个看多周期，其余条件再好也必须 WAIT。
	signal := c.Classify(Input{
		Symbol:    "BTCUSDT",
		Trends:    trends(indicator.TrendBullish, indicator.TrendBullish, indicator.TrendNeutral, indicator.TrendNeutral, indicator.TrendNeutral),
		Sentiment: bullishSentiment(),
	})

	if signal.Label != LabelWait {
		t.Fatalf("expected WAIT below quorum, got %s", signal.Label)
	}
}

func TestClassify_MirroredShort(t *testing.T) {
	c := New(testEngineConfig())

	signal := c.Classify(Input{
		Symbol: "ETHUSDT",
		Trends: trends(indicator.TrendBearish, indicator.TrendBearish, indicator.TrendBearish, indicator.TrendBearish, indicator.TrendNeutral),
		Sentiment: sentiment.Summary{
			FundingRate:     -0.0004,
			HasFundingRate:  true,
			OIChangePct24h:  -0.06,
			HasOpenInterest: true,
			LongRate:        0.7,
			ShortRate:       0.3,
			HasRatio:        true,
		},
	})

	if signal.Label != LabelShort {
		t.Fatalf("expected SHORT, got %s (factors: %+v)", signal.Label, signal.Factors)
	}
}

func TestClassify_WrongSideSentimentWaits(t *testing.T) {
	c := New(testEngineConfig())

	// 看多共识成立但资金费率为负 ⇒ WAIT。
	s := bullishSentiment()
	s.FundingRate = -0.001
	signal := c.Classify(Input{
		Symbol:    "BTCUSDT",
		Trends:    trends(indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish),
		Sentiment: s,
	})
	if signal.Label != LabelWait {
		t.Fatalf("expected WAIT on negative funding, got %s", signal.Label)
	}

	// 空头占比不足同样 WAIT。
	s = bullishSentiment()
	s.ShortRate = 0.55
	signal = c.Classify(Input{
		Symbol:    "BTCUSDT",
		Trends:    trends(indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish),
		Sentiment: s,
	})
	if signal.Label != LabelWait {
		t.Fatalf("expected WAIT below ratio threshold, got %s", signal.Label)
	}
}

func TestClassify_MissingSentimentReducesConfidence(t *testing.T) {
	c := New(testEngineConfig())
	input := Input{
		Symbol:    "BTCUSDT",
		Trends:    trends(indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish, indicator.TrendNeutral, indicator.TrendNeutral),
		Sentiment: bullishSentiment(),
	}

	full := c.Classify(input)

	input.Sentiment.HasRatio = false
	input.Sentiment.HasOpenInterest = false
	partial := c.Classify(input)

	// 缺失情绪输入不阻断分类，但必须偏向 WAIT 且降低置信度。
	if partial.Label != LabelWait {
		t.Fatalf("expected WAIT with missing sentiment, got %s", partial.Label)
	}
	if partial.Confidence >= full.Confidence {
		t.Errorf("expected reduced confidence: full=%f partial=%f", full.Confidence, partial.Confidence)
	}
	if len(partial.Factors.MissingInputs) != 2 {
		t.Errorf("expected 2 missing inputs, got %v", partial.Factors.MissingInputs)
	}
}

func TestClassify_MissingFearGreedReducesConfidence(t *testing.T) {
	c := New(testEngineConfig())
	input := Input{
		Symbol:    "BTCUSDT",
		Trends:    trends(indicator.TrendBullish, indicator.TrendBullish, indicator.TrendBullish, indicator.TrendNeutral, indicator.TrendNeutral),
		Sentiment: bullishSentiment(),
	}

	full := c.Classify(input)
	if full.Factors.FearGreed != 62 {
		t.Errorf("expected fear/greed carried into factors, got %f", full.Factors.FearGreed)
	}

	input.Sentiment.HasFearGreed = false
	partial := c.Classify(input)

	if partial.Confidence >= full.Confidence {
		t.Errorf("expected missing fear/greed to reduce confidence: full=%f partial=%f", full.Confidence, partial.Confidence)
	}

	found := false
	for _, missing := range partial.Factors.MissingInputs {
		if missing == "fear_greed" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected fear_greed among missing inputs, got %v", partial.Factors.MissingInputs)
	}
}
