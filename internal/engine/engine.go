package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mexc-signals/internal/classifier"
	"mexc-signals/internal/config"
	"mexc-signals/internal/cooldown"
	"mexc-signals/internal/indicator"
	"mexc-signals/internal/market"
	"mexc-signals/internal/micrometrics"
	"mexc-signals/internal/sentiment"
	"mexc-signals/internal/store"
)

var (
	// ErrNoPriceData 表示目标交易对完全没有可用K线，请求无法完成。
	ErrNoPriceData = errors.New("no price data")
)

// ThrottledError 表示交易对处于冷却期，并携带剩余时长。
type ThrottledError struct {
	Symbol    string
	Remaining time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("symbol %s throttled, retry after %s", e.Symbol, e.Remaining)
}

// IsThrottled 判断错误是否为冷却限流。
func IsThrottled(err error) bool {
	var throttled *ThrottledError
	return errors.As(err, &throttled)
}

// SentimentSource 抽象情绪数据提供方。
type SentimentSource interface {
	Summarize(ctx context.Context, symbol string) sentiment.Summary
}

// MarketService 抽象多周期行情服务。
type MarketService interface {
	GetMultiTimeframe(ctx context.Context, req market.SnapshotRequest) (market.MultiTimeframeSnapshot, error)
	TopByVolume(ctx context.Context, n int) ([]market.TickerStats, error)
	Source() market.Source
}

// Engine 把行情、情绪、微观指标与分类器编排为对外快照服务。
type Engine struct {
	cfg        config.EngineConfig
	logger     *zap.Logger
	markets    MarketService
	sentiments SentimentSource
	cooldown   *cooldown.Tracker
	micro      *micrometrics.Store
	calc       *indicator.Calculator
	classifier *classifier.Classifier
	history    *store.History
}

// New 创建信号引擎。history 可以为 nil，表示不落历史。
func New(
	cfg config.EngineConfig,
	markets MarketService,
	sentiments SentimentSource,
	micro *micrometrics.Store,
	history *store.History,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		markets:    markets,
		sentiments: sentiments,
		cooldown:   cooldown.NewTracker(cfg.Cooldown),
		micro:      micro,
		calc:       indicator.NewCalculator(),
		classifier: classifier.New(cfg),
		history:    history,
	}
}

// GetSnapshot 生成交易对的完整信号快照。
// 冷却中的交易对返回 ThrottledError；只有完全没有价格数据才算失败，
// 单项指标或情绪缺失都以缺口形式体现在快照里。
func (e *Engine) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	if remaining := e.cooldown.Remaining(symbol); remaining > 0 {
		return nil, &ThrottledError{Symbol: symbol, Remaining: remaining}
	}

	analysis, err := e.analyze(ctx, symbol)
	if err != nil {
		return nil, err
	}

	summary := e.sentiments.Summarize(ctx, symbol)
	e.enrichSummary(ctx, symbol, &summary)

	signal := e.classifier.Classify(classifier.Input{
		Symbol:    symbol,
		Trends:    analysis.trends(),
		Gaps:      analysis.Gaps,
		Sentiment: summary,
	})

	snapshot := &Snapshot{
		Symbol:     symbol,
		Signal:     signal,
		Timeframes: analysis.Reports,
		Gaps:       analysis.Gaps,
		Sentiment:  summary,
		CreatedAt:  time.Now().UTC(),
	}

	if e.micro != nil {
		if atr, ok := e.micro.ATR(symbol, e.micro.ATRPeriod()); ok {
			snapshot.Scalp.ATR1m = atr
			snapshot.Scalp.HasATR = true
		}
		if profile, ok := e.micro.VolumeProfile(symbol, e.micro.ProfileBuckets()); ok {
			snapshot.Scalp.Profile = profile
			snapshot.Scalp.HasProfile = true
		}
		e.micro.Touch(symbol)
	}

	if e.history != nil {
		e.history.RecordSignal(ctx, signal)
	}

	// 冷却只在成功产出后记账，失败的请求不消耗窗口。
	e.cooldown.Record(symbol)

	e.logger.Info("信号快照生成完成",
		zap.String("symbol", symbol),
		zap.String("label", string(signal.Label)),
		zap.Float64("confidence", signal.Confidence),
		zap.Int("timeframes", len(analysis.Reports)),
		zap.Int("gaps", len(analysis.Gaps)),
	)

	return snapshot, nil
}

// GetTimeframeAnalysis 只返回多周期指标报告，不走冷却、不产出信号。
func (e *Engine) GetTimeframeAnalysis(ctx context.Context, symbol string) (*Analysis, error) {
	analysis, err := e.analyze(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if e.micro != nil {
		e.micro.Touch(symbol)
	}
	return analysis, nil
}

// analyze 拉取多周期K线并计算各周期指标报告。
func (e *Engine) analyze(ctx context.Context, symbol string) (*Analysis, error) {
	snapshot, err := e.markets.GetMultiTimeframe(ctx, market.SnapshotRequest{
		Symbol:     symbol,
		Timeframes: e.cfg.Timeframes,
		Limit:      e.cfg.CandleLimit,
	})
	if err != nil {
		if e.history != nil {
			e.history.RecordError(ctx, symbol, "market", err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrNoPriceData, symbol, err)
	}

	e.ingestMicro(ctx, symbol)

	analysis := &Analysis{
		Symbol:      symbol,
		Reports:     make(map[string]indicator.Report, len(snapshot.Frames)),
		RetrievedAt: snapshot.RetrievedAt,
	}

	for timeframe, gapErr := range snapshot.Gaps {
		analysis.Gaps = append(analysis.Gaps, timeframe)
		if e.history != nil {
			e.history.RecordError(ctx, symbol, "candles_"+timeframe, gapErr)
		}
	}

	for timeframe, candles := range snapshot.Frames {
		report, err := e.calc.Compute(symbol, timeframe, candles)
		if err != nil {
			e.logger.Warn("周期指标计算失败",
				zap.String("symbol", symbol),
				zap.String("timeframe", timeframe),
				zap.Error(err),
			)
			analysis.Gaps = append(analysis.Gaps, timeframe)
			continue
		}
		analysis.Reports[timeframe] = report
	}

	if len(analysis.Reports) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPriceData, symbol)
	}

	return analysis, nil
}

// enrichSummary 在情绪源缺口时改用交易所接口补齐资金费率与未平仓量，
// 进一步失败只保留缺失标志，不影响主流程。
func (e *Engine) enrichSummary(ctx context.Context, symbol string, summary *sentiment.Summary) {
	if !summary.HasFundingRate {
		rate, err := e.markets.Source().FetchFundingRate(ctx, symbol)
		if err != nil {
			e.logger.Warn("交易所资金费率补齐失败",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		} else {
			summary.FundingRate = rate.Rate
			summary.HasFundingRate = true
			e.logger.Debug("资金费率改用交易所数据", zap.String("symbol", symbol))
		}
	}

	if !summary.HasOpenInterest {
		oi, err := e.markets.Source().FetchOpenInterest(ctx, symbol)
		if err != nil {
			e.logger.Warn("交易所未平仓量补齐失败",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		} else {
			// 交易所快照没有24小时变化量，增量保持为零，不会触发方向判定。
			summary.OpenInterest = oi.Amount
			summary.HasOpenInterest = true
			e.logger.Debug("未平仓量改用交易所数据", zap.String("symbol", symbol))
		}
	}
}

// ingestMicro 拉取最新1分钟K线喂给微观指标仓库，失败不影响主流程。
func (e *Engine) ingestMicro(ctx context.Context, symbol string) {
	if e.micro == nil {
		return
	}

	candles, err := e.markets.Source().FetchCandles(ctx, symbol, "1m", e.micro.Capacity())
	if err != nil {
		e.logger.Warn("1分钟K线采集失败",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return
	}

	e.micro.Ingest(symbol, candles)
}

// Cooldown 暴露冷却跟踪器，供测试与运维状态查询。
func (e *Engine) Cooldown() *cooldown.Tracker {
	return e.cooldown
}
