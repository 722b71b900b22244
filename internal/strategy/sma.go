package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

func init() {
	Register("sma_cross", NewSMACross)
}

// SMACross 为双均线交叉策略：快线在慢线上方做多，下方做空，
// 两线相等或未预热时观望。
type SMACross struct {
	fast int
	slow int

	closes []float64
}

func NewSMACross(params map[string]float64) (Strategy, error) {
	fast, err := intParam(params, "fast", 5)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(params, "slow", 20)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("fast(%d) 必须小于 slow(%d)", fast, slow)
	}
	return &SMACross{fast: fast, slow: slow}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) MinBars() int { return s.slow }

func (s *SMACross) Signals(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < s.slow {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	fast := talib.Sma(closes, s.fast)
	slow := talib.Sma(closes, s.slow)
	for i := range closes {
		out[i] = crossSignal(i, s.slow, fast[i], slow[i])
	}
	return out
}

func (s *SMACross) OnBar(close float64) float64 {
	s.closes = append(s.closes, close)
	n := len(s.closes)
	if n < s.slow {
		return math.NaN()
	}
	// 对前缀整体重算，保证与批量路径逐位一致。
	fast := talib.Sma(s.closes, s.fast)
	slow := talib.Sma(s.closes, s.slow)
	return crossSignal(n-1, s.slow, fast[n-1], slow[n-1])
}

func (s *SMACross) Reset() { s.closes = nil }

func crossSignal(i, warmup int, fast, slow float64) float64 {
	if i < warmup-1 {
		return math.NaN()
	}
	switch {
	case fast > slow:
		return 1
	case fast < slow:
		return -1
	default:
		return math.NaN()
	}
}
