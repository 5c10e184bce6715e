package micrometrics

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mexc-signals/internal/config"
	"mexc-signals/internal/market"
)

// Store 维护全部交易对的1分钟微观指标序列。
// 全局读写锁只保护符号表，每个交易对有独立互斥锁，摄入与读取互不阻塞其他交易对。
type Store struct {
	cfg      config.MicroConfig
	logger   *zap.Logger
	capacity int
	clock    func() time.Time

	globalMu sync.RWMutex
	series   map[string]*symbolSeries

	accessMu sync.Mutex
	access   map[string]time.Time

	persistMu   sync.Mutex
	lastPersist time.Time
}

type symbolSeries struct {
	mu     sync.Mutex
	series Series
}

// NewStore 创建微观指标仓库。
func NewStore(cfg config.MicroConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	capacity := 0
	if cfg.GranularityMinutes > 0 {
		capacity = cfg.RetentionMinutes / cfg.GranularityMinutes
	}

	return &Store{
		cfg:      cfg,
		logger:   logger,
		capacity: capacity,
		clock:    time.Now,
		series:   make(map[string]*symbolSeries),
		access:   make(map[string]time.Time),
	}
}

// Capacity 返回每个交易对保留的最大观测点数。
func (s *Store) Capacity() int {
	return s.capacity
}

// ATRPeriod 返回配置的1分钟ATR周期。
func (s *Store) ATRPeriod() int {
	return s.cfg.ATRPeriod
}

// ProfileBuckets 返回配置的成交量分布桶数。
func (s *Store) ProfileBuckets() int {
	return s.cfg.ProfileBuckets
}

func (s *Store) symbolStore(symbol string) *symbolSeries {
	s.globalMu.RLock()
	store, ok := s.series[symbol]
	s.globalMu.RUnlock()
	if ok {
		return store
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if store, ok = s.series[symbol]; !ok {
		store = &symbolSeries{}
		s.series[symbol] = store
	}
	return store
}

// Ingest 按时间戳升序摄入新的1分钟K线。
// 不晚于序列末尾时间戳的K线视为重复或乱序，直接丢弃，历史永不改写。
// 返回实际接收的K线数。
func (s *Store) Ingest(symbol string, candles []market.Candle) int {
	if len(candles) == 0 {
		return 0
	}

	store := s.symbolStore(symbol)

	store.mu.Lock()
	defer store.mu.Unlock()

	accepted := 0
	last := store.series.LastTimestamp()
	prevClose := 0.0
	if n := store.series.Len(); n > 0 {
		prevClose = store.series.Price[n-1]
	}

	for _, c := range candles {
		if !last.IsZero() && !c.Timestamp.After(last) {
			continue
		}

		trueRange := c.High - c.Low
		if prevClose > 0 {
			trueRange = c.TrueRange(prevClose)
		}

		store.series.append(s.capacity, c.Timestamp, c.Close, c.High, c.Low, c.Volume, trueRange)
		last = c.Timestamp
		prevClose = c.Close
		accepted++
	}

	if accepted > 0 {
		s.logger.Debug("微观序列摄入完成",
			zap.String("symbol", symbol),
			zap.Int("accepted", accepted),
			zap.Int("dropped", len(candles)-accepted),
			zap.Int("length", store.series.Len()),
		)
	}

	return accepted
}

// SeriesSnapshot 返回交易对序列的深拷贝。
func (s *Store) SeriesSnapshot(symbol string) (Series, bool) {
	s.globalMu.RLock()
	store, ok := s.series[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return Series{}, false
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.series.Len() == 0 {
		return Series{}, false
	}
	return store.series.clone(), true
}

// ATR 返回最近 period 个真实波幅的简单均值。
// 观测点不足 period 时返回 false，调用方必须把它当作缺数据而不是零波动。
func (s *Store) ATR(symbol string, period int) (float64, bool) {
	if period <= 0 {
		return 0, false
	}

	s.globalMu.RLock()
	store, ok := s.series[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return 0, false
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	n := len(store.series.TrueRange)
	if n < period {
		return 0, false
	}

	sum := 0.0
	for _, tr := range store.series.TrueRange[n-period:] {
		sum += tr
	}
	return sum / float64(period), true
}

// VolumeProfile 在整个保留窗口上构建成交量分布。
func (s *Store) VolumeProfile(symbol string, buckets int) (Profile, bool) {
	snapshot, ok := s.SeriesSnapshot(symbol)
	if !ok {
		return Profile{}, false
	}
	return buildProfile(snapshot.Price, snapshot.Volume, buckets, s.cfg.HVNThreshold, s.cfg.LVNThreshold)
}

// Touch 更新交易对的最近访问时间，由每次成功的快照请求调用。
func (s *Store) Touch(symbol string) {
	now := s.clock()
	s.accessMu.Lock()
	s.access[symbol] = now
	s.accessMu.Unlock()
}

// Hottest 按最近访问时间从新到旧返回至多 n 个交易对。
func (s *Store) Hottest(n int) []string {
	if n <= 0 {
		return nil
	}

	type accessed struct {
		symbol string
		at     time.Time
	}

	s.accessMu.Lock()
	all := make([]accessed, 0, len(s.access))
	for symbol, at := range s.access {
		all = append(all, accessed{symbol: symbol, at: at})
	}
	s.accessMu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].at.Equal(all[j].at) {
			return all[i].at.After(all[j].at)
		}
		return all[i].symbol < all[j].symbol
	})

	if len(all) > n {
		all = all[:n]
	}

	symbols := make([]string, len(all))
	for i, a := range all {
		symbols[i] = a.symbol
	}
	return symbols
}

// Symbols 返回当前持有序列的全部交易对。
func (s *Store) Symbols() []string {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	symbols := make([]string, 0, len(s.series))
	for symbol := range s.series {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
