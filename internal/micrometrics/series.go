package micrometrics

import "time"

// Series 保存单个交易对的1分钟滚动序列。
// 五条数值序列与时间戳严格等长、索引对齐，只能通过 append/evict 修改。
type Series struct {
	Timestamps []time.Time `json:"timestamps"`
	Price      []float64   `json:"price"`
	High       []float64   `json:"high"`
	Low        []float64   `json:"low"`
	Volume     []float64   `json:"volume"`
	TrueRange  []float64   `json:"true_range"`
}

// Len 返回序列长度。
func (s *Series) Len() int {
	return len(s.Timestamps)
}

// LastTimestamp 返回最新观测时间，序列为空返回零值。
func (s *Series) LastTimestamp() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1]
}

// append 追加一个观测点，超出容量时淘汰最旧条目。
func (s *Series) append(capacity int, ts time.Time, price, high, low, volume, trueRange float64) {
	s.Timestamps = append(s.Timestamps, ts)
	s.Price = append(s.Price, price)
	s.High = append(s.High, high)
	s.Low = append(s.Low, low)
	s.Volume = append(s.Volume, volume)
	s.TrueRange = append(s.TrueRange, trueRange)

	if capacity > 0 && len(s.Timestamps) > capacity {
		drop := len(s.Timestamps) - capacity
		s.Timestamps = append(s.Timestamps[:0], s.Timestamps[drop:]...)
		s.Price = append(s.Price[:0], s.Price[drop:]...)
		s.High = append(s.High[:0], s.High[drop:]...)
		s.Low = append(s.Low[:0], s.Low[drop:]...)
		s.Volume = append(s.Volume[:0], s.Volume[drop:]...)
		s.TrueRange = append(s.TrueRange[:0], s.TrueRange[drop:]...)
	}
}

// truncate 把序列裁剪到最近 capacity 个观测点，用于加载旧状态。
func (s *Series) truncate(capacity int) {
	if capacity <= 0 || len(s.Timestamps) <= capacity {
		return
	}
	drop := len(s.Timestamps) - capacity
	s.Timestamps = s.Timestamps[drop:]
	s.Price = s.Price[drop:]
	s.High = s.High[drop:]
	s.Low = s.Low[drop:]
	s.Volume = s.Volume[drop:]
	s.TrueRange = s.TrueRange[drop:]
}

// aligned 校验五条序列与时间戳等长。
func (s *Series) aligned() bool {
	n := len(s.Timestamps)
	return len(s.Price) == n &&
		len(s.High) == n &&
		len(s.Low) == n &&
		len(s.Volume) == n &&
		len(s.TrueRange) == n
}

// clone 返回序列的深拷贝，读方持有拷贝后不再受写方影响。
func (s *Series) clone() Series {
	cp := Series{
		Timestamps: make([]time.Time, len(s.Timestamps)),
		Price:      make([]float64, len(s.Price)),
		High:       make([]float64, len(s.High)),
		Low:        make([]float64, len(s.Low)),
		Volume:     make([]float64, len(s.Volume)),
		TrueRange:  make([]float64, len(s.TrueRange)),
	}
	copy(cp.Timestamps, s.Timestamps)
	copy(cp.Price, s.Price)
	copy(cp.High, s.High)
	copy(cp.Low, s.Low)
	copy(cp.Volume, s.Volume)
	copy(cp.TrueRange, s.TrueRange)
	return cp
}
