package micrometrics

// Profile 为一段观测窗口内的成交量分布。
type Profile struct {
	Buckets     []Bucket
	POC         Bucket
	POCIndex    int
	POCPosition float64 // POC 中心价在观测区间内的百分位 [0,100]
	HVN         []Bucket
	LVN         []Bucket
	MinPrice    float64
	MaxPrice    float64
}

// Bucket 为单个等宽价格桶。
type Bucket struct {
	Low    float64
	High   float64
	Volume float64
}

// Center 返回桶的中心价。
func (b Bucket) Center() float64 {
	return (b.Low + b.High) / 2
}

// buildProfile 把 (价格, 成交量) 观测分配到等宽价格桶。
// POC 取成交量严格最大的桶，并列时取价格最低的桶。
// HVN/LVN 按相对平均桶量的倍数阈值判定。
func buildProfile(prices, volumes []float64, buckets int, hvnThreshold, lvnThreshold float64) (Profile, bool) {
	if buckets <= 1 || len(prices) < buckets || len(prices) != len(volumes) {
		return Profile{}, false
	}

	minPrice, maxPrice := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p < minPrice {
			minPrice = p
		}
		if p > maxPrice {
			maxPrice = p
		}
	}

	priceRange := maxPrice - minPrice
	if priceRange <= 0 {
		return Profile{}, false
	}

	width := priceRange / float64(buckets)
	result := Profile{
		Buckets:  make([]Bucket, buckets),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}
	for i := range result.Buckets {
		result.Buckets[i] = Bucket{
			Low:  minPrice + float64(i)*width,
			High: minPrice + float64(i+1)*width,
		}
	}

	var totalVolume float64
	for i, p := range prices {
		idx := int((p - minPrice) / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		result.Buckets[idx].Volume += volumes[i]
		totalVolume += volumes[i]
	}

	pocIndex := 0
	for i, b := range result.Buckets {
		if b.Volume > result.Buckets[pocIndex].Volume {
			pocIndex = i
		}
	}
	result.POCIndex = pocIndex
	result.POC = result.Buckets[pocIndex]
	result.POCPosition = (result.POC.Center() - minPrice) / priceRange * 100

	average := totalVolume / float64(buckets)
	for _, b := range result.Buckets {
		switch {
		case b.Volume >= average*hvnThreshold:
			result.HVN = append(result.HVN, b)
		case b.Volume <= average*lvnThreshold:
			result.LVN = append(result.LVN, b)
		}
	}

	return result, true
}
