package market

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Source 抽象一个合约行情源。
type Source interface {
	Name() string
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchTicker(ctx context.Context, symbol string) (TickerStats, error)
	FetchTickers(ctx context.Context) ([]TickerStats, error)
	FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error)
	FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error)
}

// MultiSource 在主行情源失败时自动切换到备用源。
// 上下文取消错误不触发切换，直接向上返回。
type MultiSource struct {
	primary  Source
	fallback Source
	logger   *zap.Logger
}

// NewMultiSource 组合主备行情源，fallback 可以为 nil。
func NewMultiSource(primary, fallback Source, logger *zap.Logger) *MultiSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiSource{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Name 返回当前组合源名称。
func (m *MultiSource) Name() string {
	return m.primary.Name()
}

func (m *MultiSource) shouldFallback(err error) bool {
	if m.fallback == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (m *MultiSource) logFallback(operation, symbol string, err error) {
	m.logger.Warn("主行情源失败，切换备用源",
		zap.String("operation", operation),
		zap.String("symbol", symbol),
		zap.String("primary", m.primary.Name()),
		zap.String("fallback", m.fallback.Name()),
		zap.Error(err),
	)
}

// FetchCandles 优先走主源，失败后改走备用源。
func (m *MultiSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	candles, err := m.primary.FetchCandles(ctx, symbol, timeframe, limit)
	if err == nil {
		return candles, nil
	}
	if !m.shouldFallback(err) {
		return nil, err
	}

	m.logFallback("fetch_candles", symbol, err)
	return m.fallback.FetchCandles(ctx, symbol, timeframe, limit)
}

// FetchTicker 优先走主源，失败后改走备用源。
func (m *MultiSource) FetchTicker(ctx context.Context, symbol string) (TickerStats, error) {
	stats, err := m.primary.FetchTicker(ctx, symbol)
	if err == nil {
		return stats, nil
	}
	if !m.shouldFallback(err) {
		return TickerStats{}, err
	}

	m.logFallback("fetch_ticker", symbol, err)
	return m.fallback.FetchTicker(ctx, symbol)
}

// FetchTickers 优先走主源，失败后改走备用源。
func (m *MultiSource) FetchTickers(ctx context.Context) ([]TickerStats, error) {
	stats, err := m.primary.FetchTickers(ctx)
	if err == nil {
		return stats, nil
	}
	if !m.shouldFallback(err) {
		return nil, err
	}

	m.logFallback("fetch_tickers", "", err)
	return m.fallback.FetchTickers(ctx)
}

// FetchFundingRate 优先走主源，失败后改走备用源。
func (m *MultiSource) FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	rate, err := m.primary.FetchFundingRate(ctx, symbol)
	if err == nil {
		return rate, nil
	}
	if !m.shouldFallback(err) {
		return FundingRate{}, err
	}

	m.logFallback("fetch_funding_rate", symbol, err)
	return m.fallback.FetchFundingRate(ctx, symbol)
}

// FetchOpenInterest 优先走主源，失败后改走备用源。
func (m *MultiSource) FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	oi, err := m.primary.FetchOpenInterest(ctx, symbol)
	if err == nil {
		return oi, nil
	}
	if !m.shouldFallback(err) {
		return OpenInterest{}, err
	}

	m.logFallback("fetch_open_interest", symbol, err)
	return m.fallback.FetchOpenInterest(ctx, symbol)
}

var _ Source = (*MultiSource)(nil)
