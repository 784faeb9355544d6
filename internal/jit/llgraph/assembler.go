// assembler.go - 寄存器分配与代码大小估算
package llgraph

import (
	"github.com/tangzhangming/solatrans/internal/jit/compile"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/regalloc"
)

// 每条指令与每次数据移动的估算字节数
const (
	instrSize = 8
	movSize   = 4
)

// moveCounter 记录分配器生成的数据移动
type moveCounter struct {
	moves int
}

func (m *moveCounter) RegallocMov(from, to regalloc.Loc) { m.moves++ }

// assemble 按操作顺序分配寄存器，返回每个操作的偏移与帧深度
func (cpu *CPU) assemble(inputargs []*history.Box, ops []*history.ResOp) (*compile.AsmInfo, int, error) {
	longevity, err := regalloc.ComputeVarsLongevity(inputargs, ops)
	if err != nil {
		return nil, 0, err
	}
	fm := regalloc.NewFrameManager(0, false)
	for _, b := range inputargs {
		fm.Loc(b)
	}
	mc := &moveCounter{}
	rm := regalloc.NewRegisterManager(cpu.regs, fm, longevity, mc)

	info := &compile.AsmInfo{OpsOffset: make(map[*history.ResOp]int, len(ops))}
	size := 0
	for _, op := range ops {
		info.OpsOffset[op] = size
		before := mc.moves
		if err := cpu.allocateOp(rm, op); err != nil {
			return nil, 0, err
		}
		rm.PossiblyFreeVars(op.Args)
		rm.PossiblyFreeVars(op.FailArgs)
		if op.Result != nil {
			rm.PossiblyFreeVar(op.Result)
		}
		rm.FreeTempVars()
		if err := rm.CheckInvariants(); err != nil {
			return nil, 0, err
		}
		rm.NextInstruction()
		size += instrSize + movSize*(mc.moves-before)
	}
	info.CodeSize = size
	return info, fm.Depth(), nil
}

func (cpu *CPU) allocateOp(rm *regalloc.RegisterManager, op *history.ResOp) error {
	var forbidden []*history.Box
	for _, a := range op.Args {
		if b, ok := a.(*history.Box); ok {
			forbidden = append(forbidden, b)
		}
	}

	switch {
	case op.IsCall():
		// 参数经由栈帧传递；结果在返回寄存器里
		mode := regalloc.SaveCallerSaved
		if op.Opnum == history.CALL_MAY_FORCE || op.Opnum == history.CALL_ASSEMBLER {
			mode = regalloc.SaveAll
		}
		rm.BeforeCall(nil, mode)
		if op.Result != nil {
			rm.AfterCall(op.Result)
		}
		return nil
	case op.IsFinal(), op.Opnum == history.LABEL, len(forbidden) >= cpu.regs.Registers:
		// 参数留在原处
		if op.Opnum == history.LABEL {
			rm.BeforeCall(nil, regalloc.SaveAll)
		}
		return nil
	}

	for _, a := range op.Args {
		if _, err := rm.MakeSureVarInReg(a, forbidden, regalloc.NoSelection, false); err != nil {
			return err
		}
	}
	if op.Result != nil {
		if _, err := rm.ForceAllocateReg(op.Result, forbidden, regalloc.NoSelection, false); err != nil {
			return err
		}
	}
	return nil
}
