package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"mexc-signals/internal/config"
)

// FallbackClient 基于 Binance 合约接口实现备用行情源。
// 主流交易对在两个交易所使用相同的 BTCUSDT 符号格式。
type FallbackClient struct {
	futures *futures.Client
	logger  *zap.Logger
}

// NewFallbackClient 构造 Binance USDⓈ-M 备用客户端。
func NewFallbackClient(cfg config.FallbackConfig, logger *zap.Logger) *FallbackClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FallbackClient{
		futures: futures.NewClient(cfg.APIKey, cfg.APISecret),
		logger:  logger,
	}
}

// Name 返回行情源名称。
func (c *FallbackClient) Name() string {
	return "binance"
}

// FetchCandles 获取指定交易对与周期的K线数据。
func (c *FallbackClient) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取备用K线失败: %w", err)
	}

	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoCandles, symbol, timeframe)
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candle := Candle{Timestamp: time.UnixMilli(k.OpenTime).UTC()}
		if candle.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
			return nil, fmt.Errorf("解析备用K线字段失败: %w", err)
		}
		if candle.High, err = strconv.ParseFloat(k.High, 64); err != nil {
			return nil, fmt.Errorf("解析备用K线字段失败: %w", err)
		}
		if candle.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
			return nil, fmt.Errorf("解析备用K线字段失败: %w", err)
		}
		if candle.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
			return nil, fmt.Errorf("解析备用K线字段失败: %w", err)
		}
		if candle.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
			return nil, fmt.Errorf("解析备用K线字段失败: %w", err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// FetchTicker 获取单个交易对的24小时行情统计。
func (c *FallbackClient) FetchTicker(ctx context.Context, symbol string) (TickerStats, error) {
	stats, err := c.futures.NewListPriceChangeStatsService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return TickerStats{}, fmt.Errorf("获取备用行情统计失败: %w", err)
	}
	if len(stats) == 0 {
		return TickerStats{}, fmt.Errorf("备用行情源未返回 %s 的统计数据", symbol)
	}

	return convertPriceChangeStats(stats[0])
}

// FetchTickers 获取全部合约的24小时行情统计。
func (c *FallbackClient) FetchTickers(ctx context.Context) ([]TickerStats, error) {
	stats, err := c.futures.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取备用行情统计失败: %w", err)
	}

	result := make([]TickerStats, 0, len(stats))
	for _, s := range stats {
		converted, err := convertPriceChangeStats(s)
		if err != nil {
			c.logger.Debug("跳过无法解析的行情统计", zap.String("symbol", s.Symbol), zap.Error(err))
			continue
		}
		result = append(result, converted)
	}

	return result, nil
}

// FetchFundingRate 获取当前资金费率。
func (c *FallbackClient) FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	rates, err := c.futures.NewPremiumIndexService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return FundingRate{}, fmt.Errorf("获取备用资金费率失败: %w", err)
	}
	if len(rates) == 0 {
		return FundingRate{}, fmt.Errorf("备用行情源未返回 %s 的资金费率", symbol)
	}

	rate, err := strconv.ParseFloat(rates[0].LastFundingRate, 64)
	if err != nil {
		return FundingRate{}, fmt.Errorf("解析备用资金费率失败: %w", err)
	}

	return FundingRate{
		Symbol:          symbol,
		Rate:            rate,
		NextFundingTime: time.UnixMilli(rates[0].NextFundingTime).UTC(),
		Timestamp:       time.UnixMilli(rates[0].Time).UTC(),
	}, nil
}

// FetchOpenInterest 获取未平仓合约量。
func (c *FallbackClient) FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	oi, err := c.futures.NewGetOpenInterestService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return OpenInterest{}, fmt.Errorf("获取备用未平仓量失败: %w", err)
	}

	amount, err := strconv.ParseFloat(oi.OpenInterest, 64)
	if err != nil {
		return OpenInterest{}, fmt.Errorf("解析备用未平仓量失败: %w", err)
	}

	return OpenInterest{
		Symbol:    symbol,
		Amount:    amount,
		Timestamp: time.UnixMilli(oi.Time).UTC(),
	}, nil
}

func convertPriceChangeStats(s *futures.PriceChangeStats) (TickerStats, error) {
	last, err := strconv.ParseFloat(s.LastPrice, 64)
	if err != nil {
		return TickerStats{}, fmt.Errorf("解析最新价失败: %w", err)
	}
	quoteVolume, err := strconv.ParseFloat(s.QuoteVolume, 64)
	if err != nil {
		return TickerStats{}, fmt.Errorf("解析成交额失败: %w", err)
	}
	changePct, err := strconv.ParseFloat(s.PriceChangePercent, 64)
	if err != nil {
		return TickerStats{}, fmt.Errorf("解析涨跌幅失败: %w", err)
	}

	return TickerStats{
		Symbol:         s.Symbol,
		LastPrice:      last,
		QuoteVolume24h: quoteVolume,
		PriceChangePct: changePct,
		Timestamp:      time.UnixMilli(s.CloseTime).UTC(),
	}, nil
}
