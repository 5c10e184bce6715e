package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"mexc-signals/internal/config"
)

// Client 负责与 MEXC 合约市场交互并实现重试机制。
type Client struct {
	cfg      config.SourceConfig
	logger   *zap.Logger
	exchange *ccxt.Mexc

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 MEXC USDT 永续合约客户端。
func NewClient(cfg config.SourceConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"timeout":         cfg.Timeout.Milliseconds(),
		"options": map[string]interface{}{
			"defaultType": "swap",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewMexc(userConfig)

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Name 返回行情源名称。
func (c *Client) Name() string {
	return "mexc"
}

// FetchCandles 获取指定交易对与周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.exchange.FetchOHLCV(
			unifiedSymbol(symbol),
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoCandles, symbol, timeframe)
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// FetchTicker 获取单个交易对的24小时行情统计。
func (c *Client) FetchTicker(ctx context.Context, symbol string) (TickerStats, error) {
	var raw ccxt.Ticker

	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		ticker, err := c.exchange.FetchTicker(unifiedSymbol(symbol))
		if err != nil {
			return err
		}

		raw = ticker
		return nil
	})
	if err != nil {
		return TickerStats{}, err
	}

	return convertTicker(symbol, raw), nil
}

// FetchTickers 获取全部USDT永续合约的行情统计，用于热点排序。
func (c *Client) FetchTickers(ctx context.Context) ([]TickerStats, error) {
	var raw ccxt.Tickers

	err := c.callWithRetry(ctx, "fetch_tickers", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		tickers, err := c.exchange.FetchTickers()
		if err != nil {
			return err
		}

		raw = tickers
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats := make([]TickerStats, 0, len(raw.Tickers))
	for unified, ticker := range raw.Tickers {
		symbol := compactSymbol(unified)
		if symbol == "" {
			continue
		}
		stats = append(stats, convertTicker(symbol, ticker))
	}

	return stats, nil
}

// FetchFundingRate 获取当前资金费率。
func (c *Client) FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	var raw ccxt.FundingRate

	err := c.callWithRetry(ctx, "fetch_funding_rate", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		rate, err := c.exchange.FetchFundingRate(unifiedSymbol(symbol))
		if err != nil {
			return err
		}

		raw = rate
		return nil
	})
	if err != nil {
		return FundingRate{}, err
	}

	result := FundingRate{Symbol: symbol, Timestamp: time.Now().UTC()}
	if raw.FundingRate != nil {
		result.Rate = *raw.FundingRate
	}
	if raw.NextFundingTimestamp != nil {
		result.NextFundingTime = time.UnixMilli(int64(*raw.NextFundingTimestamp)).UTC()
	}
	if raw.Timestamp != nil {
		result.Timestamp = time.UnixMilli(int64(*raw.Timestamp)).UTC()
	}

	return result, nil
}

// FetchOpenInterest 获取未平仓合约量。
func (c *Client) FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	var raw ccxt.OpenInterest

	err := c.callWithRetry(ctx, "fetch_open_interest", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		oi, err := c.exchange.FetchOpenInterest(unifiedSymbol(symbol))
		if err != nil {
			return err
		}

		raw = oi
		return nil
	})
	if err != nil {
		return OpenInterest{}, err
	}

	result := OpenInterest{Symbol: symbol, Timestamp: time.Now().UTC()}
	if raw.OpenInterestAmount != nil {
		result.Amount = *raw.OpenInterestAmount
	}
	if raw.OpenInterestValue != nil {
		result.Value = *raw.OpenInterestValue
	}
	if raw.Timestamp != nil {
		result.Timestamp = time.UnixMilli(int64(*raw.Timestamp)).UTC()
	}

	return result, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if _, err := c.exchange.LoadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("source", c.Name()))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func convertTicker(symbol string, t ccxt.Ticker) TickerStats {
	stats := TickerStats{Symbol: symbol, Timestamp: time.Now().UTC()}
	if t.Last != nil {
		stats.LastPrice = *t.Last
	}
	if t.QuoteVolume != nil {
		stats.QuoteVolume24h = *t.QuoteVolume
	}
	if t.Percentage != nil {
		stats.PriceChangePct = *t.Percentage
	}
	if t.Timestamp != nil {
		stats.Timestamp = time.UnixMilli(int64(*t.Timestamp)).UTC()
	}
	return stats
}

// unifiedSymbol 把 BTCUSDT 形式转换为 ccxt 统一的 BTC/USDT:USDT。
func unifiedSymbol(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	base, ok := strings.CutSuffix(symbol, "USDT")
	if !ok || base == "" {
		return symbol
	}
	return base + "/USDT:USDT"
}

// compactSymbol 把 ccxt 统一符号还原为 BTCUSDT 形式，非USDT永续返回空串。
func compactSymbol(unified string) string {
	pair, _, _ := strings.Cut(unified, ":")
	base, quote, found := strings.Cut(pair, "/")
	if !found || quote != "USDT" {
		return ""
	}
	return base + quote
}
