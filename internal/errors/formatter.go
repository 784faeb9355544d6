package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// 诊断
// ============================================================================

// Diagnostic 一条诊断信息（错误或警告）
type Diagnostic struct {
	Code    string   // 错误码 (A0200)
	Level   Level    // 错误级别
	Message string   // 主消息
	Pos     Position // 出错位置
	Source  []string // 相关的操作列表
	Notes   []string // 附加说明
}

// FromError 将翻译错误转换为诊断
func FromError(err error) *Diagnostic {
	d := &Diagnostic{Level: LevelError, Message: err.Error(), Code: CodeOf(err)}
	var ae *AnnotatorError
	if errors.As(err, &ae) {
		d.Message = ae.Message
		d.Pos = ae.Pos
		d.Source = ae.Source
		return d
	}
	var te *TyperError
	if errors.As(err, &te) {
		d.Message = te.Message
		d.Pos = te.Pos
	}
	return d
}

// ============================================================================
// 格式化器
// ============================================================================

// Formatter 诊断格式化器
type Formatter struct {
	Colors     bool // 是否使用颜色
	ShowSource bool // 是否显示出错块的操作
	MaxContext int  // 出错操作前后显示的行数
}

// NewFormatter 创建默认格式化器
func NewFormatter() *Formatter {
	return &Formatter{
		Colors:     detectColorSupport(),
		ShowSource: true,
		MaxContext: 2,
	}
}

// Format 格式化诊断
func (f *Formatter) Format(d *Diagnostic) string {
	var sb strings.Builder

	// 头部: error[A0200]: cannot union ...
	levelStr := colorize(d.Level.String(), f.levelColor(d.Level), f.Colors)
	code := d.Code
	if code == "" {
		code = "?"
	}
	codeStr := colorize(fmt.Sprintf("[%s]", code), f.levelColor(d.Level), f.Colors)
	sb.WriteString(fmt.Sprintf("%s%s: %s\n", levelStr, codeStr, d.Message))

	// 位置: --> graph block@3 op=2
	if d.Pos.IsKnown() {
		arrow := colorize("-->", ColorCyan, f.Colors)
		sb.WriteString(fmt.Sprintf(" %s %s\n", arrow, colorize(d.Pos.String(), ColorCyan, f.Colors)))
	}

	if f.ShowSource && len(d.Source) > 0 {
		sb.WriteString(f.formatSource(d.Source, d.Pos.Op))
	}

	for _, note := range d.Notes {
		sb.WriteString(fmt.Sprintf("%s %s\n", colorize(" = note:", ColorCyan, f.Colors), note))
	}
	return sb.String()
}

// FormatError 直接格式化 error
func (f *Formatter) FormatError(err error) string {
	return f.Format(FromError(err))
}

// formatSource 显示出错操作及其上下文
func (f *Formatter) formatSource(ops []string, at int) string {
	var sb strings.Builder
	lo, hi := 0, len(ops)
	if at >= 0 && at < len(ops) {
		lo = at - f.MaxContext
		if lo < 0 {
			lo = 0
		}
		hi = at + f.MaxContext + 1
		if hi > len(ops) {
			hi = len(ops)
		}
	}
	width := len(fmt.Sprintf("%d", hi))
	pipe := colorize(" |", ColorBlue, f.Colors)
	for i := lo; i < hi; i++ {
		num := colorize(fmt.Sprintf("%*d", width, i), ColorBlue, f.Colors)
		sb.WriteString(fmt.Sprintf("%s%s %s\n", num, pipe, ops[i]))
		if i == at {
			marker := strings.Repeat(" ", width+3) + colorize(strings.Repeat("^", len(ops[i])), ColorRed, f.Colors)
			sb.WriteString(marker + "\n")
		}
	}
	return sb.String()
}

// levelColor 级别对应的颜色
func (f *Formatter) levelColor(level Level) Color {
	switch level {
	case LevelError:
		return ColorBoldRed
	case LevelWarning:
		return ColorBoldYellow
	default:
		return ColorCyan
	}
}
