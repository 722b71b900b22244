package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

func init() {
	Register("rsi_revert", NewRSIRevert)
}

// RSIRevert 为超买超卖反转策略：RSI 低于下界做多，高于上界做空。
type RSIRevert struct {
	period int
	lower  float64
	upper  float64

	closes []float64
}

func NewRSIRevert(params map[string]float64) (Strategy, error) {
	period, err := intParam(params, "period", 14)
	if err != nil {
		return nil, err
	}
	lower := paramOr(params, "lower", 30)
	upper := paramOr(params, "upper", 70)
	if lower <= 0 || upper >= 100 || lower >= upper {
		return nil, fmt.Errorf("需要 0 < lower(%v) < upper(%v) < 100", lower, upper)
	}
	return &RSIRevert{period: period, lower: lower, upper: upper}, nil
}

func (s *RSIRevert) Name() string { return "rsi_revert" }

// MinBars RSI 需要 period+1 根才有首个输出。
func (s *RSIRevert) MinBars() int { return s.period + 1 }

func (s *RSIRevert) Signals(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < s.MinBars() {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	rsi := talib.Rsi(closes, s.period)
	for i := range closes {
		out[i] = s.levelSignal(i, rsi[i])
	}
	return out
}

func (s *RSIRevert) OnBar(close float64) float64 {
	s.closes = append(s.closes, close)
	n := len(s.closes)
	if n < s.MinBars() {
		return math.NaN()
	}
	rsi := talib.Rsi(s.closes, s.period)
	return s.levelSignal(n-1, rsi[n-1])
}

func (s *RSIRevert) Reset() { s.closes = nil }

func (s *RSIRevert) levelSignal(i int, rsi float64) float64 {
	if i < s.period {
		return math.NaN()
	}
	switch {
	case rsi <= s.lower:
		return 1
	case rsi >= s.upper:
		return -1
	default:
		return math.NaN()
	}
}
