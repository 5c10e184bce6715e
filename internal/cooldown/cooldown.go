package cooldown

import (
	"sync"
	"time"
)

// Tracker 记录每个交易对最近一次信号时间，抑制高频重复信号。
// 只在信号成功发布后调用 Record，失败的分析不占用冷却窗口。
type Tracker struct {
	window time.Duration
	clock  func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewTracker 创建冷却跟踪器。
func NewTracker(window time.Duration) *Tracker {
	return &Tracker{
		window: window,
		clock:  time.Now,
		last:   make(map[string]time.Time),
	}
}

// Allow 判断交易对是否已脱离冷却窗口。
func (t *Tracker) Allow(symbol string) bool {
	return t.Remaining(symbol) <= 0
}

// Remaining 返回冷却剩余时长，未在冷却中返回0。
func (t *Tracker) Remaining(symbol string) time.Duration {
	t.mu.Lock()
	last, ok := t.last[symbol]
	t.mu.Unlock()

	if !ok {
		return 0
	}

	remaining := t.window - t.clock().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Record 记录一次成功的信号发布时间。
func (t *Tracker) Record(symbol string) {
	now := t.clock()
	t.mu.Lock()
	t.last[symbol] = now
	t.mu.Unlock()
}

// Reset 清除指定交易对的冷却状态。
func (t *Tracker) Reset(symbol string) {
	t.mu.Lock()
	delete(t.last, symbol)
	t.mu.Unlock()
}
