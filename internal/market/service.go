package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service 聚合多周期K线及衍生品数据获取。
type Service struct {
	source Source
	logger *zap.Logger
}

// NewService 创建市场数据服务。
func NewService(source Source, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source: source,
		logger: logger,
	}
}

// GetMultiTimeframe 并发拉取同一交易对的多周期K线。
// 单个周期失败只记入 Gaps，全部周期失败才返回错误。
func (s *Service) GetMultiTimeframe(ctx context.Context, req SnapshotRequest) (MultiTimeframeSnapshot, error) {
	if req.Symbol == "" {
		return MultiTimeframeSnapshot{}, fmt.Errorf("交易对不能为空")
	}
	if len(req.Timeframes) == 0 {
		req.Timeframes = DefaultTimeframes()
	}
	if req.Limit <= 0 {
		req.Limit = DefaultSnapshotRequest(req.Symbol).Limit
	}

	var (
		mu     sync.Mutex
		frames = make(map[string][]Candle, len(req.Timeframes))
		gaps   = make(map[string]error)
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for _, timeframe := range req.Timeframes {
		group.Go(func() error {
			data, err := s.source.FetchCandles(groupCtx, req.Symbol, timeframe, req.Limit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				gaps[timeframe] = err
				return nil
			}
			frames[timeframe] = data
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return MultiTimeframeSnapshot{}, err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return MultiTimeframeSnapshot{}, ctxErr
	}

	if len(frames) == 0 {
		return MultiTimeframeSnapshot{}, fmt.Errorf("全部周期采集失败: %w", firstGap(req.Timeframes, gaps))
	}

	snapshot := MultiTimeframeSnapshot{
		Symbol:      req.Symbol,
		Frames:      frames,
		Gaps:        gaps,
		RetrievedAt: time.Now().UTC(),
	}

	for timeframe, gapErr := range gaps {
		s.logger.Warn("周期K线缺口",
			zap.String("symbol", req.Symbol),
			zap.String("timeframe", timeframe),
			zap.Error(gapErr),
		)
	}

	s.logger.Debug("多周期快照获取完成",
		zap.String("symbol", snapshot.Symbol),
		zap.Time("retrieved_at", snapshot.RetrievedAt),
		zap.Int("frames", len(snapshot.Frames)),
		zap.Int("gaps", len(snapshot.Gaps)),
	)

	return snapshot, nil
}

// TopByVolume 按24小时成交额从高到低返回前 n 个USDT永续交易对。
func (s *Service) TopByVolume(ctx context.Context, n int) ([]TickerStats, error) {
	if n <= 0 {
		return nil, nil
	}

	tickers, err := s.source.FetchTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取行情列表失败: %w", err)
	}

	sort.Slice(tickers, func(i, j int) bool {
		if tickers[i].QuoteVolume24h != tickers[j].QuoteVolume24h {
			return tickers[i].QuoteVolume24h > tickers[j].QuoteVolume24h
		}
		return tickers[i].Symbol < tickers[j].Symbol
	})

	if len(tickers) > n {
		tickers = tickers[:n]
	}

	return tickers, nil
}

// Source 暴露底层组合行情源。
func (s *Service) Source() Source {
	return s.source
}

func firstGap(order []string, gaps map[string]error) error {
	for _, timeframe := range order {
		if err, ok := gaps[timeframe]; ok {
			return err
		}
	}
	return nil
}
