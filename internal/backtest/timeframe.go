package backtest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述回测网格：key 为对外标识，SourceInterval 为数据源侧的 interval
// 写法（7d 在交易所侧是 1w）。
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

var timeframeTable = []Timeframe{
	{Key: "1m", Duration: time.Minute, SourceInterval: "1m"},
	{Key: "5m", Duration: 5 * time.Minute, SourceInterval: "5m"},
	{Key: "15m", Duration: 15 * time.Minute, SourceInterval: "15m"},
	{Key: "30m", Duration: 30 * time.Minute, SourceInterval: "30m"},
	{Key: "1h", Duration: time.Hour, SourceInterval: "1h"},
	{Key: "4h", Duration: 4 * time.Hour, SourceInterval: "4h"},
	{Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d"},
	{Key: "3d", Duration: 72 * time.Hour, SourceInterval: "3d"},
	{Key: "7d", Duration: 7 * 24 * time.Hour, SourceInterval: "1w"},
}

var timeframeIndex = buildTimeframeIndex()

func buildTimeframeIndex() map[string]Timeframe {
	idx := make(map[string]Timeframe, len(timeframeTable))
	for _, tf := range timeframeTable {
		idx[tf.Key] = tf
	}
	return idx
}

// ParseTimeframe 解析用户输入的周期，大小写与首尾空白不敏感。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := timeframeIndex[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期 %q，可选: %s", input, strings.Join(SupportedTimeframes(), ", "))
	}
	return tf, nil
}

// SupportedTimeframes 返回全部周期 key，按字典序排序。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(timeframeTable))
	for _, tf := range timeframeTable {
		keys = append(keys, tf.Key)
	}
	sort.Strings(keys)
	return keys
}

func (tf Timeframe) durationMillis() int64 {
	return tf.Duration.Milliseconds()
}

// AlignRange 把毫秒时间戳对齐到周期网格上，顺序颠倒时先交换。
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	if end < start {
		start, end = end, start
	}
	step := tf.durationMillis()
	alStart := alignDown(start, step)
	alEnd := alignDown(end, step)
	if alEnd < alStart {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedCandles 计算对齐后的 [start, end] 闭区间内应有的 K 线根数。
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	step := tf.durationMillis()
	if end < start || step == 0 {
		return 0
	}
	return (end-start)/step + 1
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}
