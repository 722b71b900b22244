package app

import (
	"fmt"
	"sort"
	"strings"

	cfgloader "vecbt/internal/config/loader"
)

type StartupSummary struct {
	Data       DataSummary
	Engine     EngineSummary
	Simulator  SimSummary
	Strategies []string
	Profiles   map[string]cfgloader.ProfileDefinition
	HTTPAddr   string
}

type DataSummary struct {
	Dir             string
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
}

type EngineSummary struct {
	FillRatio  float64
	Slippage   float64
	StopLoss   float64
	TakeProfit float64
	Closing    string
}

type SimSummary struct {
	Workers        int
	MaxConcurrent  int
	InitialBalance float64
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[行情数据 (CANDLE DATA)]")
	fmt.Printf("  数据目录: %s\n", s.Data.Dir)
	fmt.Printf("  默认交易所: %s\n", s.Data.DefaultExchange)
	fmt.Printf("  限速: %d req/min, 单批 %d 根\n", s.Data.RateLimitPerMin, s.Data.MaxBatch)
	fmt.Println()

	fmt.Println("[引擎默认参数 (ENGINE DEFAULTS)]")
	fmt.Printf("  成交比例: %.2f, 滑点: %.4f\n", s.Engine.FillRatio, s.Engine.Slippage)
	fmt.Printf("  止损: %.4f, 止盈: %.4f\n", s.Engine.StopLoss, s.Engine.TakeProfit)
	fmt.Printf("  平仓模式: %s\n", s.Engine.Closing)
	fmt.Println()

	fmt.Println("[模拟器 (SIMULATOR)]")
	fmt.Printf("  并行分块: %d, 并发 run 上限: %d\n", s.Simulator.Workers, s.Simulator.MaxConcurrent)
	fmt.Printf("  默认初始资金: %.2f\n", s.Simulator.InitialBalance)
	fmt.Println()

	fmt.Println("[策略 (STRATEGIES)]")
	fmt.Printf("  已注册: %s\n", formatList(s.Strategies))
	if len(s.Profiles) == 0 {
		fmt.Println("  Profile: (无配置)")
	} else {
		names := make([]string, 0, len(s.Profiles))
		for name := range s.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			def := s.Profiles[name]
			fmt.Printf("  > %s (策略: %s)\n", name, def.Strategy)
			fmt.Printf("    标的: %s, 周期: %s\n", formatList(def.SymbolsUpper()), formatList(def.IntervalsLower()))
		}
	}
	fmt.Println()

	fmt.Printf("[HTTP] 监听地址: %s\n", s.HTTPAddr)
	fmt.Println(strings.Repeat("=", 80))
}

// formatProfileSummary 在 profile 热更新时输出多行摘要。
func formatProfileSummary(snap cfgloader.ProfileSnapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[profiles] v%d 共 %d 个 profile\n", snap.Version, len(snap.Profiles)))
	names := make([]string, 0, len(snap.Profiles))
	for name := range snap.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := snap.Profiles[name]
		b.WriteString(fmt.Sprintf("- %s: 策略=%s 标的=%s 周期=%s\n",
			name, def.Strategy, formatList(def.SymbolsUpper()), formatList(def.IntervalsLower())))
	}
	return b.String()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
