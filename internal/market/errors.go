package market

import "errors"

var (
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过本轮采集。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrNoCandles 表示行情源返回了空K线序列。
	ErrNoCandles = errors.New("no candles returned")
)
