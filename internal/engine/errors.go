package engine

import (
	"errors"
	"fmt"
)

// 错误分级：配置错误与结构性错误在回测开始前直接失败；
// 一致性错误表示批量与逐行两条管线出现分歧，必须终止本次回测。

// ConfigError 表示某个配置参数非法，消息中带上参数名。
type ConfigError struct {
	Arg    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置参数 %s 非法: %s", e.Arg, e.Reason)
}

func configErrf(arg, format string, args ...any) error {
	return &ConfigError{Arg: arg, Reason: fmt.Sprintf(format, args...)}
}

// StructuralError 表示调用方式/输入结构不满足前置条件，当前运行不可恢复。
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return "结构错误: " + e.Reason
}

func structuralErrf(format string, args ...any) error {
	return &StructuralError{Reason: fmt.Sprintf(format, args...)}
}

// ErrLoopedClosingUnsupported 逐笔循环平仓模式尚未实现（向量化引擎的已知空缺）。
var ErrLoopedClosingUnsupported = &StructuralError{
	Reason: "looped 平仓模式尚未实现，向量化回测仅支持 vectorized 模式",
}

// ErrNoSignalInput buy/sell 条件与 signal 序列都未提供。
var ErrNoSignalInput = &StructuralError{
	Reason: "必须提供 signal 序列，或 buy/sell 条件之一",
}

// ConsistencyError 表示向量化与事件驱动两种模式的结果在某一行分叉。
type ConsistencyError struct {
	Strategy    string
	Column      string
	Row         int
	Vectorized  float64
	EventDriven float64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("一致性校验失败: strategy=%s column=%s row=%d vectorized=%v event_driven=%v",
		e.Strategy, e.Column, e.Row, e.Vectorized, e.EventDriven)
}

// IsConfigError 判断 err 是否为配置错误。
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsStructuralError 判断 err 是否为结构性错误。
func IsStructuralError(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// IsConsistencyError 判断 err 是否为一致性错误。
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
