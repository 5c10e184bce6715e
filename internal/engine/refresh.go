package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mexc-signals/internal/config"
	"mexc-signals/internal/micrometrics"
)

// Refresher 周期性为最近访问的交易对预热微观指标仓库。
// 后台刷新失败只记日志，绝不影响前台请求。
type Refresher struct {
	cfg     config.RefreshConfig
	logger  *zap.Logger
	markets MarketService
	micro   *micrometrics.Store

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewRefresher 创建后台刷新器。
func NewRefresher(cfg config.RefreshConfig, markets MarketService, micro *micrometrics.Store, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		cfg:      cfg,
		logger:   logger,
		markets:  markets,
		micro:    micro,
		inFlight: make(map[string]bool),
	}
}

// Run 启动刷新循环，直到上下文取消。
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("后台刷新已启动",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("top_symbols", r.cfg.TopSymbols),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("后台刷新已停止")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle 执行一轮刷新：取最热交易对，逐个重新摄入1分钟K线。
func (r *Refresher) runCycle(ctx context.Context) {
	symbols := r.micro.Hottest(r.cfg.TopSymbols)
	if len(symbols) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		if !r.tryAcquire(symbol) {
			// 上一轮刷新还没结束，跳过而不是排队。
			r.logger.Debug("刷新仍在进行，跳过", zap.String("symbol", symbol))
			continue
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer r.release(symbol)
			r.refreshSymbol(ctx, symbol)
		}(symbol)
	}
	wg.Wait()

	if wrote, err := r.micro.Persist(); err != nil {
		r.logger.Warn("微观指标落盘失败", zap.Error(err))
	} else if wrote {
		r.logger.Debug("微观指标已落盘")
	}
}

func (r *Refresher) refreshSymbol(ctx context.Context, symbol string) {
	candles, err := r.markets.Source().FetchCandles(ctx, symbol, "1m", r.micro.Capacity())
	if err != nil {
		r.logger.Warn("后台刷新采集失败",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return
	}

	accepted := r.micro.Ingest(symbol, candles)
	r.logger.Debug("后台刷新完成",
		zap.String("symbol", symbol),
		zap.Int("accepted", accepted),
	)
}

func (r *Refresher) tryAcquire(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[symbol] {
		return false
	}
	r.inFlight[symbol] = true
	return true
}

func (r *Refresher) release(symbol string) {
	r.mu.Lock()
	delete(r.inFlight, symbol)
	r.mu.Unlock()
}
