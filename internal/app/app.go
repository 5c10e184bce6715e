package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mexc-signals/internal/classifier"
	"mexc-signals/internal/config"
	"mexc-signals/internal/engine"
	"mexc-signals/internal/market"
	"mexc-signals/internal/micrometrics"
	"mexc-signals/internal/sentiment"
	"mexc-signals/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 构建引擎并驱动后台刷新与热点扫描，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("信号系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("source", a.cfg.Source.Name),
		zap.Strings("timeframes", a.cfg.Engine.Timeframes),
	)

	primary, err := market.NewClient(a.cfg.Source, a.logger.Named("market"))
	if err != nil {
		return fmt.Errorf("初始化行情客户端失败: %w", err)
	}

	var fallback market.Source
	if a.cfg.Fallback.Enabled {
		fallback = market.NewFallbackClient(a.cfg.Fallback, a.logger.Named("fallback"))
	}

	source := market.NewMultiSource(primary, fallback, a.logger.Named("market"))
	markets := market.NewService(source, a.logger.Named("market"))

	sentiments := sentiment.NewClient(a.cfg.Sentiment, a.logger.Named("sentiment"))

	micro := micrometrics.NewStore(a.cfg.Micro, a.logger.Named("micro"))
	if err := micro.Load(); err != nil {
		a.logger.Warn("加载微观指标状态失败", zap.Error(err))
	}

	history, err := store.NewHistory(a.store, a.logger.Named("history"))
	if err != nil {
		return fmt.Errorf("初始化信号历史失败: %w", err)
	}

	eng := engine.New(a.cfg.Engine, markets, sentiments, micro, history, a.logger.Named("engine"))

	refresher := engine.NewRefresher(a.cfg.Refresh, markets, micro, a.logger.Named("refresh"))
	go refresher.Run(ctx)

	// 退出前做最后一次落盘，避免丢失最新的微观序列。
	defer func() {
		if err := micro.PersistNow(); err != nil {
			a.logger.Warn("退出前落盘失败", zap.Error(err))
		}
	}()

	if err := a.scanOnce(ctx, eng, markets); err != nil {
		a.logger.Error("首轮扫描失败", zap.Error(err))
	}

	ticker := time.NewTicker(a.cfg.Refresh.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err := a.scanOnce(ctx, eng, markets); err != nil {
				a.logger.Error("热点扫描失败", zap.Error(err))
			}
		}
	}
}

// scanOnce 对成交额最高的交易对各生成一次信号快照。
// 冷却限流是常态，不算失败。
func (a *App) scanOnce(ctx context.Context, eng *engine.Engine, markets *market.Service) error {
	tickers, err := markets.TopByVolume(ctx, a.cfg.Refresh.TopSymbols)
	if err != nil {
		return err
	}

	for _, ticker := range tickers {
		snapshot, err := eng.GetSnapshot(ctx, ticker.Symbol)
		if err != nil {
			if engine.IsThrottled(err) {
				a.logger.Debug("交易对冷却中，跳过", zap.String("symbol", ticker.Symbol))
				continue
			}
			a.logger.Warn("生成信号快照失败",
				zap.String("symbol", ticker.Symbol),
				zap.Error(err),
			)
			continue
		}

		if snapshot.Signal.Label != classifier.LabelWait {
			a.logger.Info("产生方向信号",
				zap.String("symbol", snapshot.Symbol),
				zap.String("label", string(snapshot.Signal.Label)),
				zap.Float64("confidence", snapshot.Signal.Confidence),
			)
		}
	}

	return nil
}
