// backend.go - 后端接口
package compile

import (
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// DeadFrame 编译代码退出时留下的帧，具体内容由后端决定
type DeadFrame any

// AsmInfo 一次汇编的结果
type AsmInfo struct {
	// OpsOffset 每个操作在生成代码中的偏移
	OpsOffset map[*history.ResOp]int
	CodeSize  int
}

// Backend 把优化后的 trace 变成可执行代码
type Backend interface {
	CompileLoop(inputargs []*history.Box, ops []*history.ResOp, token *history.JitCellToken) (*AsmInfo, error)
	CompileBridge(faildescr history.FailDescr, inputargs []*history.Box, ops []*history.ResOp,
		original *history.JitCellToken) (*AsmInfo, error)

	GetIntValue(frame DeadFrame, index int) int64
	GetRefValue(frame DeadFrame, index int) history.HeapObj
	GetFloatValue(frame DeadFrame, index int) float64
	GetLatestDescr(frame DeadFrame) history.Descr

	// Force 强制一个仍在运行的帧，返回它的死帧
	Force(token history.HeapObj) DeadFrame
	SetSavedataRef(frame DeadFrame, ref history.HeapObj)
	GetSavedataRef(frame DeadFrame) history.HeapObj
	GrabExcValue(frame DeadFrame) history.HeapObj
}

// liveValues 按 boxes 的类型从死帧读出前 len(boxes) 个值
func liveValues(cpu Backend, frame DeadFrame, boxes []*history.Box) []history.Value {
	out := make([]history.Value, len(boxes))
	for i, b := range boxes {
		switch b.Type() {
		case history.INT:
			out[i] = history.ConstInt{Value: cpu.GetIntValue(frame, i)}
		case history.FLOAT:
			out[i] = history.ConstFloat{Value: cpu.GetFloatValue(frame, i)}
		default:
			out[i] = history.ConstPtr{Value: cpu.GetRefValue(frame, i)}
		}
	}
	return out
}
