// history.go - 记录中的 trace
package history

import "strings"

// History 追踪器记录的操作序列
type History struct {
	InputArgs  []*Box
	Operations []*ResOp
}

// NewHistory 以 inputargs 开始一段记录
func NewHistory(inputargs ...*Box) *History {
	return &History{InputArgs: inputargs}
}

// Record 追加一个操作并返回它
func (h *History) Record(opnum Opnum, args []Value, result *Box, descr Descr) *ResOp {
	op := NewOp(opnum, args, result, descr)
	h.Operations = append(h.Operations, op)
	return op
}

// RecordGuard 追加带失败参数的守卫
func (h *History) RecordGuard(opnum Opnum, args []Value, descr Descr, failargs ...Value) *ResOp {
	op := h.Record(opnum, args, nil, descr)
	op.FailArgs = failargs
	return op
}

// Cut 截取 [start:] 的操作，用于从中间开始的重新追踪
func (h *History) Cut(start int) []*ResOp {
	return append([]*ResOp(nil), h.Operations[start:]...)
}

func (h *History) String() string { return FormatTrace(h.InputArgs, h.Operations) }

// FormatTrace 按行格式化一段 trace
func FormatTrace(inputargs []*Box, ops []*ResOp) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, a := range inputargs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteString("]\n")
	for _, op := range ops {
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Opnums 操作码列表，测试里比较 trace 形状
func Opnums(ops []*ResOp) []Opnum {
	out := make([]Opnum, len(ops))
	for i, op := range ops {
		out[i] = op.Opnum
	}
	return out
}
