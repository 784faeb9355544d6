// interp.go - 解释执行编译单元
package llgraph

import (
	"errors"
	"fmt"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// maxSteps 一次执行最多解释的操作数，防止测试中的死循环
const maxSteps = 1 << 20

// Raise FuncObj 返回它表示调用抛出了异常
type Raise struct {
	Exc history.HeapObj
}

func (r *Raise) Error() string { return fmt.Sprintf("raised %s", r.Exc) }

// ForceToken FORCE_TOKEN 的结果，残余调用用它强制调用者的帧
type ForceToken struct {
	frame *Frame
}

func (t *ForceToken) String() string { return "<force token>" }

// Frame 执行中的帧；退出后即为死帧
type Frame struct {
	Descr  history.Descr
	Values []history.Value

	env          map[*history.Box]history.Value
	token        *history.JitCellToken
	exc          history.HeapObj
	ovf          bool
	forced       bool
	pendingGuard *history.ResOp
	savedata     history.HeapObj
}

func (f *Frame) resolve(v history.Value) history.Value {
	if b, ok := v.(*history.Box); ok {
		if c, ok := f.env[b]; ok {
			return c
		}
		return history.Zero(b.Type())
	}
	return v
}

func (f *Frame) resolveAll(vs []history.Value) []history.Value {
	out := make([]history.Value, len(vs))
	for i, v := range vs {
		out[i] = f.resolve(v)
	}
	return out
}

func (f *Frame) bind(boxes []*history.Box, values []history.Value) {
	for i, b := range boxes {
		f.env[b] = values[i]
	}
}

// Execute 以 args 进入循环，运行到 FINISH 或没有桥的守卫失败
func (cpu *CPU) Execute(token *history.JitCellToken, args ...history.Value) (*Frame, error) {
	cpu.mu.Lock()
	unit, ok := cpu.loops[token]
	cpu.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("llgraph: %s is not compiled", token.DescrString())
	}
	if len(args) != len(unit.inputargs) {
		return nil, fmt.Errorf("llgraph: %s takes %d arguments, got %d", token.DescrString(), len(unit.inputargs), len(args))
	}
	f := &Frame{env: make(map[*history.Box]history.Value), token: token}
	f.bind(unit.inputargs, args)
	return f, cpu.run(f, unit, 0)
}

func (cpu *CPU) run(f *Frame, unit *compiledUnit, pc int) error {
	for steps := 0; steps < maxSteps; steps++ {
		if pc >= len(unit.ops) {
			return fmt.Errorf("llgraph: fell off the end of %s", unit.name)
		}
		op := unit.ops[pc]
		switch {
		case op.Opnum == history.LABEL:
			pc++
		case op.Opnum == history.JUMP:
			target, ok := op.Descr.(*history.TargetToken)
			if !ok {
				return fmt.Errorf("llgraph: jump without a target in %s", unit.name)
			}
			cpu.mu.Lock()
			pos, ok := cpu.labels[target]
			cpu.mu.Unlock()
			if !ok {
				return fmt.Errorf("llgraph: jump to unknown %s", target.DescrString())
			}
			values := f.resolveAll(op.Args)
			label := pos.unit.ops[pos.index]
			for i, a := range label.Args {
				if b, ok := a.(*history.Box); ok {
					f.env[b] = values[i]
				}
			}
			unit, pc = pos.unit, pos.index+1
		case op.Opnum == history.FINISH:
			f.Descr = op.Descr
			f.Values = f.resolveAll(op.Args)
			return nil
		case op.IsGuard():
			if cpu.guardHolds(f, op) {
				if op.Opnum == history.GUARD_EXCEPTION {
					if op.Result != nil {
						f.env[op.Result] = history.ConstPtr{Value: f.exc}
					}
					f.exc = nil
				}
				pc++
				continue
			}
			f.Descr = op.Descr
			f.Values = f.resolveAll(op.FailArgs)
			cpu.mu.Lock()
			bridge, ok := cpu.bridges[op.Descr]
			cpu.mu.Unlock()
			if !ok {
				return nil
			}
			f.bind(bridge.inputargs, f.Values)
			unit, pc = bridge, 0
		default:
			if err := cpu.execOp(f, unit, pc); err != nil {
				return err
			}
			pc++
		}
	}
	return fmt.Errorf("llgraph: step limit exceeded in %s", unit.name)
}

func (cpu *CPU) execOp(f *Frame, unit *compiledUnit, pc int) error {
	op := unit.ops[pc]
	if op.Opnum == history.FORCE_TOKEN {
		f.env[op.Result] = history.ConstPtr{Value: &ForceToken{frame: f}}
		return nil
	}
	if op.Opnum == history.CALL_MAY_FORCE && pc+1 < len(unit.ops) {
		f.pendingGuard = unit.ops[pc+1]
		defer func() { f.pendingGuard = nil }()
	}

	res, err := history.Execute(op.Opnum, op.Descr, f.resolveAll(op.Args))
	f.ovf = false
	var raise *Raise
	switch {
	case errors.Is(err, history.ErrOverflow):
		f.ovf = true
		res = history.ConstInt{}
	case errors.As(err, &raise):
		f.exc = raise.Exc
		res = nil
	case err != nil:
		return fmt.Errorf("llgraph: %s: %w", op, err)
	}
	if op.Result != nil {
		if res == nil {
			res = history.Zero(op.Result.Type())
		}
		f.env[op.Result] = res
	}
	return nil
}

// guardHolds 守卫条件是否成立
func (cpu *CPU) guardHolds(f *Frame, op *history.ResOp) bool {
	args := f.resolveAll(op.Args)
	switch op.Opnum {
	case history.GUARD_TRUE:
		n, _ := history.IntValue(args[0])
		return n != 0
	case history.GUARD_FALSE:
		n, _ := history.IntValue(args[0])
		return n == 0
	case history.GUARD_VALUE:
		return history.Same(args[0], args[1])
	case history.GUARD_NONNULL:
		return refOf(args[0]) != nil
	case history.GUARD_ISNULL:
		return refOf(args[0]) == nil
	case history.GUARD_CLASS, history.GUARD_NONNULL_CLASS:
		s, ok := refOf(args[0]).(*history.StructObj)
		return ok && s.Class == refOf(args[1])
	case history.GUARD_NO_EXCEPTION:
		return f.exc == nil
	case history.GUARD_EXCEPTION:
		s, ok := f.exc.(*history.StructObj)
		cls, _ := refOf(args[0]).(*history.ClassObj)
		return ok && s.Class != nil && cls != nil && s.Class.IsSubclassOf(cls)
	case history.GUARD_NO_OVERFLOW:
		return !f.ovf
	case history.GUARD_OVERFLOW:
		return f.ovf
	case history.GUARD_NOT_FORCED, history.GUARD_NOT_FORCED_2:
		return !f.forced
	case history.GUARD_NOT_INVALIDATED:
		return f.token == nil || !f.token.Invalidated
	}
	return true
}

func refOf(v history.Value) history.HeapObj {
	if c, ok := v.(history.ConstPtr); ok {
		return c.Value
	}
	return nil
}
