// descr.go - 守卫与终止描述符
package compile

import (
	"fmt"
	"math"
	"reflect"

	"go.uber.org/atomic"

	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/resume"
)

// 状态字布局：
//
//	bit 0     BUSY，正在从这个守卫追踪桥
//	bit 1-2   GUARD_VALUE 守卫的值类型
//	bit 3-    无类型时为计数器哈希，有类型时为失败参数下标
const (
	stBusyFlag  uint32 = 0x01
	stTypeMask  uint32 = 0x06
	stShift            = 3
	stShiftMask uint32 = ^uint32(1<<stShift - 1)

	tyNone  uint32 = 0x00
	tyInt   uint32 = 0x02
	tyRef   uint32 = 0x04
	tyFloat uint32 = 0x06
)

// ResumeDescr 能把新编译的代码接在其后的描述符
type ResumeDescr interface {
	history.Descr
	compileAndAttach(c *Compiler, loop *Loop) error
}

// guardDescr 守卫描述符及嵌入它的类型
type guardDescr interface {
	ResumeDescr
	IsFinal() bool
	guard() *ResumeGuardDescr
}

// ============================================================================
// 守卫描述符
// ============================================================================

// ResumeGuardDescr 普通守卫的描述符，保存恢复数据与热度状态
type ResumeGuardDescr struct {
	Opnum history.Opnum

	status atomic.Uint32
	hash   uint32
	data   *resume.Data

	loopToken *history.JitCellToken
	bridge    *Loop
}

func (d *ResumeGuardDescr) DescrString() string {
	return fmt.Sprintf("<ResumeGuardDescr %s>", d.Opnum)
}

func (d *ResumeGuardDescr) IsFinal() bool { return false }

// StoreResumeData 优化器在守卫输出时调用
func (d *ResumeGuardDescr) StoreResumeData(data *resume.Data) { d.data = data }

// Data 恢复数据；守卫没有经过优化器时为 nil
func (d *ResumeGuardDescr) Data() *resume.Data { return d.data }

// LoopToken 守卫所在的编译单元
func (d *ResumeGuardDescr) LoopToken() *history.JitCellToken { return d.loopToken }

// Bridge 已接在守卫上的桥
func (d *ResumeGuardDescr) Bridge() *Loop { return d.bridge }

// Status 当前状态字
func (d *ResumeGuardDescr) Status() uint32 { return d.status.Load() }

// storeFinalBoxes 守卫进入后端前分配计数器
func (d *ResumeGuardDescr) storeFinalBoxes(op *history.ResOp, token *history.JitCellToken, counter *JitCounter) {
	d.loopToken = token
	d.hash = counter.FetchNextHash() & stShiftMask
	d.status.Store(d.hash)
	if op.Opnum == history.GUARD_VALUE {
		d.makeACounterPerValue(op)
	}
}

// makeACounterPerValue GUARD_VALUE 的每个失败值各用一个计数器。
// 被守卫的值不在失败参数里时保留普通计数器。
func (d *ResumeGuardDescr) makeACounterPerValue(op *history.ResOp) {
	box, ok := op.Args[0].(*history.Box)
	if !ok {
		return
	}
	index := -1
	for i, a := range op.FailArgs {
		if a == history.Value(box) {
			index = i
			break
		}
	}
	if index < 0 {
		return
	}
	var ty uint32
	switch box.Type() {
	case history.INT:
		ty = tyInt
	case history.REF:
		ty = tyRef
	case history.FLOAT:
		ty = tyFloat
	default:
		return
	}
	d.status.Store(ty | uint32(index)<<stShift)
}

// counterHash 本次失败对应的计数器；BUSY 时返回 false
func (d *ResumeGuardDescr) counterHash(cpu Backend, frame DeadFrame) (uint32, bool) {
	status := d.status.Load()
	if status&stBusyFlag != 0 {
		return 0, false
	}
	ty := status & stTypeMask
	if ty == tyNone {
		return status & stShiftMask, true
	}
	index := int(status >> stShift)
	var v uint64
	switch ty {
	case tyInt:
		v = uint64(cpu.GetIntValue(frame, index))
	case tyRef:
		v = refKey(cpu.GetRefValue(frame, index))
	default:
		v = math.Float64bits(cpu.GetFloatValue(frame, index))
	}
	return HashValue(d.hash, v), true
}

func refKey(obj history.HeapObj) uint64 {
	if obj == nil {
		return 0
	}
	if rv := reflect.ValueOf(obj); rv.Kind() == reflect.Pointer {
		return uint64(rv.Pointer())
	}
	return uint64(HashGreenKey(obj.String()))
}

// MustCompile 计一次失败，返回是否该从这里编译桥。
// 正在追踪时不计数；GUARD_NOT_INVALIDATED 失败说明循环已失效，永不编译。
func (d *ResumeGuardDescr) MustCompile(cpu Backend, frame DeadFrame, counter *JitCounter, threshold int) bool {
	if d.Opnum == history.GUARD_NOT_INVALIDATED {
		return false
	}
	hash, ok := d.counterHash(cpu, frame)
	if !ok {
		return false
	}
	return counter.Tick(hash, threshold)
}

// StartCompiling 设置 BUSY；已经设置时返回 false
func (d *ResumeGuardDescr) StartCompiling() bool {
	for {
		s := d.status.Load()
		if s&stBusyFlag != 0 {
			return false
		}
		if d.status.CAS(s, s|stBusyFlag) {
			return true
		}
	}
}

// DoneCompiling 清除 BUSY
func (d *ResumeGuardDescr) DoneCompiling() {
	for {
		s := d.status.Load()
		if d.status.CAS(s, s&^stBusyFlag) {
			return
		}
	}
}

// IsBusy 是否正在追踪桥
func (d *ResumeGuardDescr) IsBusy() bool { return d.status.Load()&stBusyFlag != 0 }

func (d *ResumeGuardDescr) guard() *ResumeGuardDescr { return d }

func (d *ResumeGuardDescr) compileAndAttach(c *Compiler, loop *Loop) error {
	return d.attach(c, d, loop)
}

// attach self 是后端看到的描述符，嵌入时为外层类型
func (d *ResumeGuardDescr) attach(c *Compiler, self history.FailDescr, loop *Loop) error {
	if err := c.sendBridgeToBackend(self, d.loopToken, loop); err != nil {
		return err
	}
	d.bridge = loop
	return nil
}

// ============================================================================
// GUARD_NOT_FORCED
// ============================================================================

// AllVirtuals 强制后的虚拟对象，暂存在死帧的 savedata 里
type AllVirtuals struct {
	Objs []history.HeapObj
}

func (a *AllVirtuals) String() string { return fmt.Sprintf("<AllVirtuals %d>", len(a.Objs)) }

// ResumeGuardForcedDescr GUARD_NOT_FORCED 的描述符。
// 残余调用中帧被强制时，所有虚拟对象立即分配并存进 savedata。
type ResumeGuardForcedDescr struct {
	ResumeGuardDescr
}

func (d *ResumeGuardForcedDescr) DescrString() string {
	return fmt.Sprintf("<ResumeGuardForcedDescr %s>", d.Opnum)
}

func (d *ResumeGuardForcedDescr) compileAndAttach(c *Compiler, loop *Loop) error {
	return d.attach(c, d, loop)
}

// HandleAsyncForcing 分配虚拟对象并保存到死帧
func (d *ResumeGuardForcedDescr) HandleAsyncForcing(cpu Backend, frame DeadFrame) error {
	if d.data == nil {
		cpu.SetSavedataRef(frame, &AllVirtuals{})
		return nil
	}
	reader, err := resume.NewReader(d.data, liveValues(cpu, frame, d.data.LiveBoxes))
	if err != nil {
		return err
	}
	objs, err := reader.ForceAllVirtuals()
	if err != nil {
		return err
	}
	cpu.SetSavedataRef(frame, &AllVirtuals{Objs: objs})
	return nil
}

// FetchAllVirtuals 取出 HandleAsyncForcing 保存的对象
func (d *ResumeGuardForcedDescr) FetchAllVirtuals(cpu Backend, frame DeadFrame) []history.HeapObj {
	av, ok := cpu.GetSavedataRef(frame).(*AllVirtuals)
	if !ok {
		return nil
	}
	cpu.SetSavedataRef(frame, nil)
	return av.Objs
}

// InventFailDescrForOp 为追踪器记录的守卫选择描述符
func InventFailDescrForOp(opnum history.Opnum) history.FailDescr {
	switch opnum {
	case history.GUARD_NOT_FORCED, history.GUARD_NOT_FORCED_2:
		return &ResumeGuardForcedDescr{ResumeGuardDescr{Opnum: opnum}}
	}
	return &ResumeGuardDescr{Opnum: opnum}
}

// ============================================================================
// 从解释器进入
// ============================================================================

// ResumeFromInterpDescr 从解释器入口开始的追踪，编译结果成为入口桥
type ResumeFromInterpDescr struct {
	GreenKey string
}

func (d *ResumeFromInterpDescr) DescrString() string {
	return "<ResumeFromInterpDescr " + d.GreenKey + ">"
}

func (d *ResumeFromInterpDescr) compileAndAttach(c *Compiler, loop *Loop) error {
	token := &history.JitCellToken{}
	loop.Token = token
	if err := c.sendLoopToBackend(loop, "entry bridge"); err != nil {
		return err
	}
	c.attachEntry(d.GreenKey, token)
	return nil
}

// ============================================================================
// 终止描述符
// ============================================================================

// DoneWithThisFrameDescr 函数正常返回
type DoneWithThisFrameDescr struct {
	Result history.Type
}

func (d *DoneWithThisFrameDescr) DescrString() string {
	return fmt.Sprintf("<DoneWithThisFrameDescr %c>", d.Result)
}

func (d *DoneWithThisFrameDescr) IsFinal() bool { return true }

// ExitFrameWithExceptionDescr 函数以异常退出，异常对象在 FINISH 的参数里
type ExitFrameWithExceptionDescr struct{}

func (d *ExitFrameWithExceptionDescr) DescrString() string { return "<ExitFrameWithExceptionDescrRef>" }
func (d *ExitFrameWithExceptionDescr) IsFinal() bool       { return true }

// PropagateExceptionDescr 回调解释器时抛出的异常，从后端取出
type PropagateExceptionDescr struct{}

func (d *PropagateExceptionDescr) DescrString() string { return "<PropagateExceptionDescr>" }
func (d *PropagateExceptionDescr) IsFinal() bool       { return true }

var (
	DoneWithThisFrameVoid     = &DoneWithThisFrameDescr{Result: history.VOID}
	DoneWithThisFrameInt      = &DoneWithThisFrameDescr{Result: history.INT}
	DoneWithThisFrameRef      = &DoneWithThisFrameDescr{Result: history.REF}
	DoneWithThisFrameFloat    = &DoneWithThisFrameDescr{Result: history.FLOAT}
	ExitFrameWithExceptionRef = &ExitFrameWithExceptionDescr{}
	PropagateException        = &PropagateExceptionDescr{}
)

// DoneWithThisFrame 按返回类型取终止描述符
func DoneWithThisFrame(t history.Type) *DoneWithThisFrameDescr {
	switch t {
	case history.INT:
		return DoneWithThisFrameInt
	case history.REF:
		return DoneWithThisFrameRef
	case history.FLOAT:
		return DoneWithThisFrameFloat
	}
	return DoneWithThisFrameVoid
}
