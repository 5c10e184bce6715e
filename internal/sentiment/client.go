package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"mexc-signals/internal/cache"
	"mexc-signals/internal/config"
)

// minInterval 为上游接受的最小回溯区间，更小的请求区间一律上调。
const minInterval = 4 * time.Hour

// ErrRatioUnavailable 表示全部回溯区间的多空比率都获取失败。
var ErrRatioUnavailable = errors.New("long/short ratio unavailable")

// Client 为 Coinglass v4 行情情绪客户端。
// 慢速端点的结果经TTL缓存，刷新失败时返回过期值。
type Client struct {
	cfg        config.SentimentConfig
	logger     *zap.Logger
	httpClient *http.Client

	marketsCache *cache.TTL[[]PairMarket]
	ratioCache   *cache.TTL[Ratio]
	liqCache     *cache.TTL[Liquidations]
	indexCache   *cache.TTL[IndexReading]
}

// NewClient 创建情绪数据客户端。
func NewClient(cfg config.SentimentConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		marketsCache: cache.NewTTL[[]PairMarket]("sentiment_markets", cfg.MarketsTTL, logger),
		ratioCache:   cache.NewTTL[Ratio]("sentiment_ratio", cfg.RatioTTL, logger),
		liqCache:     cache.NewTTL[Liquidations]("sentiment_liquidations", cfg.RatioTTL, logger),
		indexCache:   cache.NewTTL[IndexReading]("sentiment_index", cfg.IndexTTL, logger),
	}
}

type apiResponse struct {
	Code    string          `json:"code"`
	Msg     string          `json:"msg"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// permanentError 标记不可重试的上游失败。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	reqURL := c.cfg.BaseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	b := &backoff.Backoff{
		Min:    c.cfg.Retry.MinDelay,
		Max:    c.cfg.Retry.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err := c.doRequest(ctx, reqURL, out)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("情绪接口重试后成功",
					zap.String("endpoint", endpoint),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		lastErr = err
		if attempt == c.cfg.Retry.MaxAttempts {
			break
		}

		wait := b.Duration()
		c.logger.Warn("情绪接口调用失败，等待重试",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("情绪接口调用失败: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &permanentError{err: fmt.Errorf("构造请求失败: %w", err)}
	}
	req.Header.Set("accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("CG-API-KEY", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("上游返回 %d", resp.StatusCode)
	default:
		return &permanentError{err: fmt.Errorf("上游拒绝请求 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if envelope.Code != "" && envelope.Code != "0" {
		return &permanentError{err: fmt.Errorf("上游业务错误 %s: %s", envelope.Code, envelope.Msg)}
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}

// coinglassSymbol 把 BTCUSDT 转换为上游使用的币种符号 BTC。
func coinglassSymbol(symbol string) string {
	if base, ok := strings.CutSuffix(symbol, "USDT"); ok && base != "" {
		return base
	}
	return symbol
}

// normalizeInterval 把低于上游下限的区间上调到下限。
// 必须在计算缓存键之前调用，避免同一实际区间产生多个缓存条目。
func (c *Client) normalizeInterval(interval string) string {
	d, err := time.ParseDuration(interval)
	if err != nil {
		// 1d/1w 这类单位 ParseDuration 不认识，原样传给上游。
		return interval
	}

	floor := minInterval
	if c.cfg.IntervalFloor != "" {
		if parsed, err := time.ParseDuration(c.cfg.IntervalFloor); err == nil {
			floor = parsed
		}
	}

	if d < floor {
		return fmt.Sprintf("%dh", int(floor.Hours()))
	}
	return interval
}

// PairsMarkets 返回指定币种在各交易所的合约行情，TTL缓存。
func (c *Client) PairsMarkets(ctx context.Context, symbol string) ([]PairMarket, error) {
	coin := coinglassSymbol(symbol)
	return c.marketsCache.GetOrFetch(ctx, coin, func(ctx context.Context) ([]PairMarket, error) {
		params := url.Values{"symbol": {coin}}
		var markets []PairMarket
		if err := c.getJSON(ctx, "/api/futures/pairs-markets", params, &markets); err != nil {
			return nil, err
		}
		return markets, nil
	})
}

type ratioPoint struct {
	LongRate       float64 `json:"longRate"`
	ShortRate      float64 `json:"shortRate"`
	LongShortRatio float64 `json:"longShortRatio"`
	Time           int64   `json:"time"`
}

// LongShortRatio 按配置的回溯区间顺序尝试获取多空比率。
// 每个区间先做下限归一化再进入缓存，全部失败返回 ErrRatioUnavailable。
func (c *Client) LongShortRatio(ctx context.Context, symbol string) (Ratio, error) {
	coin := coinglassSymbol(symbol)

	var lastErr error
	for _, requested := range c.cfg.RatioFallbackRanges {
		interval := c.normalizeInterval(requested)
		cacheKey := coin + ":" + interval

		ratio, err := c.ratioCache.GetOrFetch(ctx, cacheKey, func(ctx context.Context) (Ratio, error) {
			return c.fetchRatio(ctx, coin, interval)
		})
		if err == nil {
			return ratio, nil
		}

		lastErr = err
		c.logger.Warn("多空比率区间获取失败，尝试下一区间",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Error(err),
		)
	}

	return Ratio{}, fmt.Errorf("%w: %s: %w", ErrRatioUnavailable, symbol, lastErr)
}

func (c *Client) fetchRatio(ctx context.Context, coin, interval string) (Ratio, error) {
	params := url.Values{
		"symbol":   {coin},
		"interval": {interval},
	}

	var points []ratioPoint
	if err := c.getJSON(ctx, "/api/futures/global-long-short-account-ratio/history", params, &points); err != nil {
		return Ratio{}, err
	}
	if len(points) == 0 {
		return Ratio{}, fmt.Errorf("多空比率数据为空: %s %s", coin, interval)
	}

	last := points[len(points)-1]
	ratio := Ratio{
		LongRate:  last.LongRate,
		ShortRate: last.ShortRate,
		Ratio:     last.LongShortRatio,
		Range:     interval,
		Timestamp: time.UnixMilli(last.Time).UTC(),
	}
	if ratio.ShortRate == 0 && ratio.LongRate > 0 && ratio.LongRate < 1 {
		ratio.ShortRate = 1 - ratio.LongRate
	}
	if ratio.Ratio == 0 && ratio.ShortRate > 0 {
		ratio.Ratio = ratio.LongRate / ratio.ShortRate
	}

	return ratio, nil
}

// Liquidations 返回24小时清算聚合，取 pairs-markets 中的交易所条目。
func (c *Client) Liquidations(ctx context.Context, symbol string) (Liquidations, error) {
	coin := coinglassSymbol(symbol)
	return c.liqCache.GetOrFetch(ctx, coin, func(ctx context.Context) (Liquidations, error) {
		markets, err := c.PairsMarkets(ctx, symbol)
		if err != nil {
			return Liquidations{}, err
		}

		entry, ok := pickExchange(markets, "MEXC")
		if !ok {
			return Liquidations{}, fmt.Errorf("未找到 %s 的清算数据", symbol)
		}
		return Liquidations{
			LongUsd:  entry.LongLiquidationUsd24h,
			ShortUsd: entry.ShortLiquidationUsd24h,
		}, nil
	})
}

type indexPoint struct {
	Value          float64 `json:"value"`
	Classification string  `json:"valueClassification"`
	Time           int64   `json:"time"`
}

// FearGreedIndex 返回最新的恐惧贪婪指数，TTL缓存。
func (c *Client) FearGreedIndex(ctx context.Context) (IndexReading, error) {
	return c.indexCache.GetOrFetch(ctx, "fear_greed", func(ctx context.Context) (IndexReading, error) {
		var points []indexPoint
		if err := c.getJSON(ctx, "/api/index/fear-greed-history", nil, &points); err != nil {
			return IndexReading{}, err
		}
		if len(points) == 0 {
			return IndexReading{}, fmt.Errorf("恐惧贪婪指数数据为空")
		}

		last := points[len(points)-1]
		return IndexReading{
			Value:          last.Value,
			Classification: last.Classification,
			Timestamp:      time.UnixMilli(last.Time).UTC(),
		}, nil
	})
}

// Summarize 汇总信号分类所需的情绪指标。
// 单项指标失败只记录缺失标志，不让整个汇总失败。
func (c *Client) Summarize(ctx context.Context, symbol string) Summary {
	summary := Summary{
		Symbol:      symbol,
		RetrievedAt: time.Now().UTC(),
	}

	if markets, err := c.PairsMarkets(ctx, symbol); err != nil {
		c.logger.Warn("获取合约行情失败", zap.String("symbol", symbol), zap.Error(err))
	} else if entry, ok := pickExchange(markets, "MEXC"); ok {
		summary.FundingRate = entry.FundingRate
		summary.HasFundingRate = true
		summary.OpenInterest = entry.OpenInterest
		summary.OIChangePct24h = entry.OpenInterestChange24h
		summary.HasOpenInterest = true
	} else {
		c.logger.Warn("合约行情中缺少目标交易所条目", zap.String("symbol", symbol))
	}

	if ratio, err := c.LongShortRatio(ctx, symbol); err != nil {
		c.logger.Warn("获取多空比率失败", zap.String("symbol", symbol), zap.Error(err))
	} else {
		summary.LongRate = ratio.LongRate
		summary.ShortRate = ratio.ShortRate
		summary.RatioRange = ratio.Range
		summary.HasRatio = true
	}

	if liq, err := c.Liquidations(ctx, symbol); err != nil {
		c.logger.Warn("获取清算数据失败", zap.String("symbol", symbol), zap.Error(err))
	} else {
		summary.Liquidations = liq
		summary.HasLiquidations = true
	}

	if index, err := c.FearGreedIndex(ctx); err != nil {
		c.logger.Warn("获取恐惧贪婪指数失败", zap.Error(err))
	} else {
		summary.FearGreed = index
		summary.HasFearGreed = true
	}

	return summary
}

func pickExchange(markets []PairMarket, exchange string) (PairMarket, bool) {
	for _, m := range markets {
		if strings.EqualFold(m.ExchangeName, exchange) {
			return m, true
		}
	}
	return PairMarket{}, false
}
