package sentiment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mexc-signals/internal/config"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.SentimentConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		MarketsTTL:          time.Minute,
		RatioTTL:            time.Minute,
		IndexTTL:            time.Minute,
		IntervalFloor:       "4h",
		RatioFallbackRanges: []string{"1h", "12h", "1d"},
	}
	return NewClient(cfg, nil)
}

func TestNormalizeInterval_FloorsSmallRanges(t *testing.T) {
	c := testClient(t, http.NotFoundHandler())

	cases := map[string]string{
		"5m":  "4h",
		"1h":  "4h",
		"4h":  "4h",
		"12h": "12h",
		"1d":  "1d", // 非 Duration 语法原样透传
	}
	for in, want := range cases {
		if got := c.normalizeInterval(in); got != want {
			t.Errorf("normalizeInterval(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLongShortRatio_FallbackRanges(t *testing.T) {
	var requested []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		interval := r.URL.Query().Get("interval")
		requested = append(requested, interval)

		// 4h 区间不可用，12h 区间返回数据。
		if interval == "4h" {
			http.Error(w, `{"code":"500","msg":"range unavailable"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"code":"0","msg":"success","data":[{"longRate":0.35,"shortRate":0.65,"longShortRatio":0.538,"time":1700000000000}]}`))
	})

	c := testClient(t, handler)

	ratio, err := c.LongShortRatio(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("LongShortRatio returned error: %v", err)
	}
	if ratio.Range != "12h" {
		t.Errorf("expected ratio from 12h fallback, got %q", ratio.Range)
	}
	if ratio.ShortRate != 0.65 {
		t.Errorf("expected short rate 0.65, got %f", ratio.ShortRate)
	}

	// 1h 先被归一化为 4h，再按顺序尝试 12h。
	want := []string{"4h", "12h"}
	if len(requested) != len(want) {
		t.Fatalf("expected %d upstream calls, got %d: %v", len(want), len(requested), requested)
	}
	for i := range want {
		if requested[i] != want[i] {
			t.Errorf("call %d: got %s want %s", i, requested[i], want[i])
		}
	}
}

func TestGetJSON_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"code":"0","msg":"success","data":[{"exchangeName":"MEXC","fundingRate":0.0002,"openInterest":1000,"openInterestChange24h":0.08,"longRate":0.4}]}`))
	})

	c := testClient(t, handler)

	markets, err := c.PairsMarkets(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("PairsMarkets returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(markets) != 1 || markets[0].ExchangeName != "MEXC" {
		t.Fatalf("unexpected markets payload: %+v", markets)
	}
}

func TestGetJSON_PermanentFailureNotRetried(t *testing.T) {
	attempts := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	})

	c := testClient(t, handler)

	if _, err := c.PairsMarkets(context.Background(), "BTCUSDT"); err == nil {
		t.Fatalf("expected error on auth rejection")
	}
	if attempts != 1 {
		t.Errorf("expected single attempt on permanent failure, got %d", attempts)
	}
}

func TestSummarize_PartialFailureSetsPresenceFlags(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/futures/pairs-markets":
			w.Write([]byte(`{"code":"0","msg":"success","data":[{"exchangeName":"MEXC","fundingRate":0.0003,"openInterest":5000,"openInterestChange24h":0.12,"longLiquidationUsd24h":100,"shortLiquidationUsd24h":200}]}`))
		default:
			http.Error(w, "not available", http.StatusBadRequest)
		}
	})

	c := testClient(t, handler)

	summary := c.Summarize(context.Background(), "BTCUSDT")
	if !summary.HasFundingRate || summary.FundingRate != 0.0003 {
		t.Errorf("expected funding rate present: %+v", summary)
	}
	if !summary.HasOpenInterest || summary.OIChangePct24h != 0.12 {
		t.Errorf("expected open interest present: %+v", summary)
	}
	if summary.HasRatio {
		t.Errorf("expected ratio missing when all ranges fail")
	}
	if !summary.HasLiquidations || summary.Liquidations.ShortUsd != 200 {
		t.Errorf("expected liquidations from markets entry: %+v", summary.Liquidations)
	}
	if summary.HasFearGreed {
		t.Errorf("expected fear/greed missing on upstream failure")
	}
}
