package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mexc-signals/internal/config"
	"mexc-signals/internal/micrometrics"
)

func TestRefresherCycle_IngestsHottestSymbols(t *testing.T) {
	candles := risingCandles(30)
	markets := &stubMarkets{source: &stubSource{candles1m: candles}}

	micro := micrometrics.NewStore(config.MicroConfig{
		RetentionMinutes:   60,
		GranularityMinutes: 1,
		ATRPeriod:          14,
		ProfileBuckets:     12,
		HVNThreshold:       1.5,
		LVNThreshold:       0.5,
		PersistPath:        filepath.Join(t.TempDir(), "micro.json"),
		PersistInterval:    time.Minute,
	}, nil)

	micro.Touch("BTCUSDT")
	micro.Touch("ETHUSDT")

	r := NewRefresher(config.RefreshConfig{Interval: time.Minute, TopSymbols: 5}, markets, micro, nil)
	r.runCycle(context.Background())

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		series, ok := micro.SeriesSnapshot(symbol)
		if !ok {
			t.Fatalf("expected refreshed series for %s", symbol)
		}
		if series.Len() != 30 {
			t.Errorf("%s: expected 30 observations, got %d", symbol, series.Len())
		}
	}
}

func TestRefresherCycle_SwallowsFetchFailures(t *testing.T) {
	markets := &stubMarkets{source: &stubSource{err: context.DeadlineExceeded}}

	micro := micrometrics.NewStore(config.MicroConfig{
		RetentionMinutes:   60,
		GranularityMinutes: 1,
		ATRPeriod:          14,
		ProfileBuckets:     12,
		HVNThreshold:       1.5,
		LVNThreshold:       0.5,
		PersistPath:        filepath.Join(t.TempDir(), "micro.json"),
		PersistInterval:    time.Minute,
	}, nil)
	micro.Touch("BTCUSDT")

	r := NewRefresher(config.RefreshConfig{Interval: time.Minute, TopSymbols: 5}, markets, micro, nil)

	// 采集失败只能吞掉，不允许panic或返回错误。
	r.runCycle(context.Background())

	if _, ok := micro.SeriesSnapshot("BTCUSDT"); ok {
		t.Errorf("expected no series after failed refresh")
	}
}

func TestRefresherInFlightGuard(t *testing.T) {
	r := NewRefresher(config.RefreshConfig{Interval: time.Minute, TopSymbols: 5}, nil, nil, nil)

	if !r.tryAcquire("BTCUSDT") {
		t.Fatalf("expected first acquire to succeed")
	}
	if r.tryAcquire("BTCUSDT") {
		t.Fatalf("expected second acquire to be rejected while in flight")
	}

	r.release("BTCUSDT")
	if !r.tryAcquire("BTCUSDT") {
		t.Fatalf("expected acquire to succeed after release")
	}
}
