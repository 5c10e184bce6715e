package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mexc-signals/internal/classifier"
	"mexc-signals/internal/config"
	"mexc-signals/internal/market"
	"mexc-signals/internal/micrometrics"
	"mexc-signals/internal/sentiment"
)

type stubSource struct {
	candles1m []market.Candle
	err       error
	funding   *market.FundingRate
	oi        *market.OpenInterest
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.candles1m, nil
}

func (s *stubSource) FetchTicker(ctx context.Context, symbol string) (market.TickerStats, error) {
	return market.TickerStats{}, errors.New("not implemented")
}

func (s *stubSource) FetchTickers(ctx context.Context) ([]market.TickerStats, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSource) FetchFundingRate(ctx context.Context, symbol string) (market.FundingRate, error) {
	if s.funding == nil {
		return market.FundingRate{}, errors.New("funding rate unavailable")
	}
	return *s.funding, nil
}

func (s *stubSource) FetchOpenInterest(ctx context.Context, symbol string) (market.OpenInterest, error) {
	if s.oi == nil {
		return market.OpenInterest{}, errors.New("open interest unavailable")
	}
	return *s.oi, nil
}

type stubMarkets struct {
	snapshot market.MultiTimeframeSnapshot
	err      error
	source   *stubSource
}

func (m *stubMarkets) GetMultiTimeframe(ctx context.Context, req market.SnapshotRequest) (market.MultiTimeframeSnapshot, error) {
	if m.err != nil {
		return market.MultiTimeframeSnapshot{}, m.err
	}
	return m.snapshot, nil
}

func (m *stubMarkets) TopByVolume(ctx context.Context, n int) ([]market.TickerStats, error) {
	return nil, nil
}

func (m *stubMarkets) Source() market.Source { return m.source }

type stubSentiments struct {
	summary sentiment.Summary
}

func (s *stubSentiments) Summarize(ctx context.Context, symbol string) sentiment.Summary {
	return s.summary
}

func engineConfig() config.EngineConfig {
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

func risingCandles(n int) []market.Candle {
	start := time.Unix(60_000, 0).UTC()
	candles := make([]market.Candle, n)
	price := 100.0
	for i := range candles {
		if i%5 == 4 {
			price -= 0.5
		} else {
			price += 1
		}
		candles[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price - 1,
			High:      price + 1,
			Low:       price - 2,
			Close:     price,
			Volume:    10,
		}
	}
	return candles
}

func newTestEngine(t *testing.T, markets MarketService, summary sentiment.Summary) *Engine {
	t.Helper()

	micro := micrometrics.NewStore(config.MicroConfig{
		RetentionMinutes:   240,
		GranularityMinutes: 1,
		ATRPeriod:          14,
		ProfileBuckets:     12,
		HVNThreshold:       1.5,
		LVNThreshold:       0.5,
		PersistPath:        filepath.Join(t.TempDir(), "micro.json"),
		PersistInterval:    time.Minute,
	}, nil)

	return New(engineConfig(), markets, &stubSentiments{summary: summary}, micro, nil, nil)
}

func fullSnapshot(candles []market.Candle) market.MultiTimeframeSnapshot {
	return market.MultiTimeframeSnapshot{
		Symbol: "BTCUSDT",
		Frames: map[string][]market.Candle{
			"5m": candles, "15m": candles, "30m": candles, "1h": candles, "4h": candles,
		},
		Gaps:        map[string]error{},
		RetrievedAt: time.Now().UTC(),
	}
}

func TestGetSnapshot_HappyPath(t *testing.T) {
	candles := risingCandles(40)
	markets := &stubMarkets{
		snapshot: fullSnapshot(candles),
		source:   &stubSource{candles1m: candles},
	}
	summary := sentiment.Summary{
		FundingRate:     0.0005,
		HasFundingRate:  true,
		OIChangePct24h:  0.08,
		HasOpenInterest: true,
		LongRate:        0.35,
		ShortRate:       0.65,
		HasRatio:        true,
	}

	e := newTestEngine(t, markets, summary)

	snapshot, err := e.GetSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetSnapshot returned error: %v", err)
	}

	if snapshot.Signal.Label != classifier.LabelLong {
		t.Errorf("expected LONG on rising series with bullish sentiment, got %s", snapshot.Signal.Label)
	}
	if len(snapshot.Timeframes) != 5 {
		t.Errorf("expected 5 timeframe reports, got %d", len(snapshot.Timeframes))
	}
	if len(snapshot.Gaps) != 0 {
		t.Errorf("expected no gaps, got %v", snapshot.Gaps)
	}
	// 1分钟K线已摄入，ATR与成交量分布应当可用。
	if !snapshot.Scalp.HasATR {
		t.Errorf("expected 1m ATR available after ingest")
	}
	if !snapshot.Scalp.HasProfile {
		t.Errorf("expected volume profile available after ingest")
	}
}

func TestGetSnapshot_ExchangeFallbackFillsSentimentGaps(t *testing.T) {
	candles := risingCandles(40)
	markets := &stubMarkets{
		snapshot: fullSnapshot(candles),
		source: &stubSource{
			candles1m: candles,
			funding:   &market.FundingRate{Symbol: "BTCUSDT", Rate: 0.0004},
			oi:        &market.OpenInterest{Symbol: "BTCUSDT", Amount: 12_000},
		},
	}

	// 情绪源完全失效，资金费率与未平仓量应改走交易所接口。
	e := newTestEngine(t, markets, sentiment.Summary{})

	snapshot, err := e.GetSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetSnapshot returned error: %v", err)
	}

	if !snapshot.Sentiment.HasFundingRate || snapshot.Sentiment.FundingRate != 0.0004 {
		t.Errorf("expected funding rate from exchange fallback: %+v", snapshot.Sentiment)
	}
	if !snapshot.Sentiment.HasOpenInterest || snapshot.Sentiment.OpenInterest != 12_000 {
		t.Errorf("expected open interest from exchange fallback: %+v", snapshot.Sentiment)
	}
	// 交易所没有24小时增量，零增量不允许触发方向信号。
	if snapshot.Sentiment.OIChangePct24h != 0 {
		t.Errorf("expected zero OI delta from exchange fallback, got %f", snapshot.Sentiment.OIChangePct24h)
	}
	if snapshot.Signal.Label != classifier.LabelWait {
		t.Errorf("expected WAIT without directional OI delta, got %s", snapshot.Signal.Label)
	}

	for _, missing := range snapshot.Signal.Factors.MissingInputs {
		if missing == "funding_rate" || missing == "open_interest" {
			t.Errorf("expected %s filled by exchange fallback, missing inputs: %v", missing, snapshot.Signal.Factors.MissingInputs)
		}
	}
}

func TestGetSnapshot_ThrottledAfterSuccess(t *testing.T) {
	candles := risingCandles(40)
	markets := &stubMarkets{
		snapshot: fullSnapshot(candles),
		source:   &stubSource{candles1m: candles},
	}

	e := newTestEngine(t, markets, sentiment.Summary{})

	if _, err := e.GetSnapshot(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("first GetSnapshot returned error: %v", err)
	}

	_, err := e.GetSnapshot(context.Background(), "BTCUSDT")
	if err == nil {
		t.Fatalf("expected throttled error inside cooldown window")
	}
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.Remaining <= 0 {
		t.Errorf("expected positive remaining interval, got %v", throttled.Remaining)
	}
	if !IsThrottled(err) {
		t.Errorf("IsThrottled should report true")
	}
}

func TestGetSnapshot_FailureDoesNotConsumeCooldown(t *testing.T) {
	markets := &stubMarkets{
		err:    errors.New("all sources down"),
		source: &stubSource{err: errors.New("down")},
	}

	e := newTestEngine(t, markets, sentiment.Summary{})

	_, err := e.GetSnapshot(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrNoPriceData) {
		t.Fatalf("expected ErrNoPriceData, got %v", err)
	}

	// 失败不记冷却，下一次请求不被限流。
	if !e.Cooldown().Allow("BTCUSDT") {
		t.Errorf("expected failed request to leave cooldown untouched")
	}
}

func TestGetSnapshot_GapIsolation(t *testing.T) {
	candles := risingCandles(40)
	snapshot := fullSnapshot(candles)
	delete(snapshot.Frames, "4h")
	snapshot.Gaps["4h"] = errors.New("timeframe unavailable")

	markets := &stubMarkets{
		snapshot: snapshot,
		source:   &stubSource{candles1m: candles},
	}

	e := newTestEngine(t, markets, sentiment.Summary{})

	result, err := e.GetSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("expected partial snapshot, got error: %v", err)
	}
	if len(result.Timeframes) != 4 {
		t.Errorf("expected 4 timeframe reports, got %d", len(result.Timeframes))
	}
	if len(result.Gaps) != 1 || result.Gaps[0] != "4h" {
		t.Errorf("expected gap for 4h, got %v", result.Gaps)
	}
}

func TestGetTimeframeAnalysis_DoesNotConsumeCooldown(t *testing.T) {
	candles := risingCandles(40)
	markets := &stubMarkets{
		snapshot: fullSnapshot(candles),
		source:   &stubSource{candles1m: candles},
	}

	e := newTestEngine(t, markets, sentiment.Summary{})

	for i := 0; i < 3; i++ {
		analysis, err := e.GetTimeframeAnalysis(context.Background(), "BTCUSDT")
		if err != nil {
			t.Fatalf("GetTimeframeAnalysis returned error: %v", err)
		}
		if len(analysis.Reports) != 5 {
			t.Fatalf("expected 5 reports, got %d", len(analysis.Reports))
		}
	}

	if !e.Cooldown().Allow("BTCUSDT") {
		t.Errorf("analysis requests must not consume the cooldown window")
	}
}
