// Package market 定义行情数据的基础结构。
package market

// Candle 表示一根已收盘的 K 线，时间戳均为毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Valid 校验时间与价格字段是否自洽，用于过滤数据源返回的坏行。
func (c Candle) Valid() bool {
	if c.OpenTime <= 0 || c.CloseTime < c.OpenTime {
		return false
	}
	if c.High < c.Low || c.Low <= 0 {
		return false
	}
	if c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return false
	}
	return c.Volume >= 0
}
