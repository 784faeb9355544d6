package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// 位置
// ============================================================================

// Position 出错位置：图 + 块 + 操作序号
// Block/Op 为 -1 表示未知
type Position struct {
	Graph string
	Block int
	Op    int
}

// NoPosition 未知位置
var NoPosition = Position{Block: -1, Op: -1}

// IsKnown 是否为已知位置
func (p Position) IsKnown() bool {
	return p.Graph != ""
}

func (p Position) String() string {
	if !p.IsKnown() {
		return "?"
	}
	s := p.Graph
	if p.Block >= 0 {
		s += fmt.Sprintf(" block@%d", p.Block)
	}
	if p.Op >= 0 {
		s += fmt.Sprintf(" op=%d", p.Op)
	}
	return s
}

// ============================================================================
// 注解器错误
// ============================================================================

// AnnotatorError 操作在受限子集中无法表达
type AnnotatorError struct {
	Code    string
	Message string
	Pos     Position
	Source  []string // 出错块的操作列表（用于报告）
}

// NewAnnotatorError 创建注解器错误
func NewAnnotatorError(code string, format string, args ...interface{}) *AnnotatorError {
	return &AnnotatorError{Code: code, Message: fmt.Sprintf(format, args...), Pos: NoPosition}
}

func (e *AnnotatorError) Error() string {
	if e.Pos.IsKnown() {
		return fmt.Sprintf("%s: [%s] %s", e.Pos, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// At 附加位置（已有位置时不覆盖）
func (e *AnnotatorError) At(pos Position) *AnnotatorError {
	if !e.Pos.IsKnown() {
		e.Pos = pos
	}
	return e
}

// UnionError 两个注解没有公共上界
type UnionError struct {
	AnnotatorError
	Left  string
	Right string
}

// NewUnionError 创建 union 错误
func NewUnionError(left, right fmt.Stringer, reason string) *UnionError {
	e := &UnionError{Left: left.String(), Right: right.String()}
	e.Code = A0200
	e.Pos = NoPosition
	if reason == "" {
		reason = "no common base"
	}
	e.Message = fmt.Sprintf("cannot union %s and %s: %s", e.Left, e.Right, reason)
	return e
}

// Unwrap 允许 errors.As 匹配 *AnnotatorError
func (e *UnionError) Unwrap() error {
	return &e.AnnotatorError
}

// HarmlesslyBlocked 路径上读取了白名单中但不存在的属性
type HarmlesslyBlocked struct {
	Reason string
}

func (e *HarmlesslyBlocked) Error() string {
	return "harmlessly blocked: " + e.Reason
}

// ============================================================================
// 类型化器错误
// ============================================================================

// TyperError 无法选择表示或低层类型不一致
type TyperError struct {
	Code    string
	Message string
	Pos     Position
}

// NewTyperError 创建类型化器错误
func NewTyperError(code string, format string, args ...interface{}) *TyperError {
	return &TyperError{Code: code, Message: fmt.Sprintf(format, args...), Pos: NoPosition}
}

func (e *TyperError) Error() string {
	if e.Pos.IsKnown() {
		return fmt.Sprintf("%s: [%s] %s", e.Pos, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// At 附加位置
func (e *TyperError) At(pos Position) *TyperError {
	if !e.Pos.IsKnown() {
		e.Pos = pos
	}
	return e
}

// MissingLLTypeError 表示上没有该操作的低层实现
type MissingLLTypeError struct {
	TyperError
	Op   string
	Repr string
}

// NewMissingLLTypeError 创建缺失低层操作的错误
func NewMissingLLTypeError(op string, repr fmt.Stringer) *MissingLLTypeError {
	e := &MissingLLTypeError{Op: op, Repr: repr.String()}
	e.Code = T0003
	e.Pos = NoPosition
	e.Message = fmt.Sprintf("no lowering for %s on %s", op, e.Repr)
	return e
}

// Unwrap 允许 errors.As 匹配 *TyperError
func (e *MissingLLTypeError) Unwrap() error {
	return &e.TyperError
}

// ============================================================================
// JIT 错误
// ============================================================================

// InvalidLoop 优化器发现 trace 无法安全闭合
type InvalidLoop struct {
	Reason string
}

func (e *InvalidLoop) Error() string {
	return fmt.Sprintf("[%s] invalid loop: %s", J0001, e.Reason)
}

// NoVariableToSpill 在约束下找不到可溢出的寄存器
type NoVariableToSpill struct {
	Forbidden int // 被禁止的 box 数
}

func (e *NoVariableToSpill) Error() string {
	return fmt.Sprintf("[%s] no variable to spill (%d forbidden)", J0002, e.Forbidden)
}

// BogusImmutableField 对标记为不可变的字段执行了 setfield
type BogusImmutableField struct {
	Descr string
}

func (e *BogusImmutableField) Error() string {
	return fmt.Sprintf("[%s] setfield on immutable field %s", J0003, e.Descr)
}

// BackendError 后端拒绝编译一个循环或桥
type BackendError struct {
	Unit string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("[%s] backend failed on %s: %v", J0004, e.Unit, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ============================================================================
// 原始内存错误
// ============================================================================

// RawMemoryError 原始缓冲区操作失败
type RawMemoryError struct {
	Code string
	Op   string
	Err  error
}

func (e *RawMemoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Op)
}

func (e *RawMemoryError) Unwrap() error {
	return e.Err
}

// ============================================================================
// 辅助
// ============================================================================

// IsInvalidLoop 判断是否为 InvalidLoop
func IsInvalidLoop(err error) bool {
	var il *InvalidLoop
	return errors.As(err, &il)
}

// IsHarmlesslyBlocked 判断是否为 HarmlesslyBlocked
func IsHarmlesslyBlocked(err error) bool {
	var hb *HarmlesslyBlocked
	return errors.As(err, &hb)
}

// PositionOf 取出错误携带的位置
func PositionOf(err error) (Position, bool) {
	var ae *AnnotatorError
	if errors.As(err, &ae) && ae.Pos.IsKnown() {
		return ae.Pos, true
	}
	var te *TyperError
	if errors.As(err, &te) && te.Pos.IsKnown() {
		return te.Pos, true
	}
	return NoPosition, false
}

// CodeOf 取出错误码
func CodeOf(err error) string {
	var ae *AnnotatorError
	if errors.As(err, &ae) {
		return ae.Code
	}
	var te *TyperError
	if errors.As(err, &te) {
		return te.Code
	}
	var il *InvalidLoop
	if errors.As(err, &il) {
		return J0001
	}
	var ns *NoVariableToSpill
	if errors.As(err, &ns) {
		return J0002
	}
	var bf *BogusImmutableField
	if errors.As(err, &bf) {
		return J0003
	}
	var be *BackendError
	if errors.As(err, &be) {
		return J0004
	}
	var rm *RawMemoryError
	if errors.As(err, &rm) {
		return rm.Code
	}
	return ""
}
