// vstring.go - 字符串虚拟化
//
// 三种虚拟字符串：plain（newstr 常量长度，逐字符跟踪）、concat（两部分拼接）、
// slice（另一个字符串的一段）。它们只在逃逸时才分配；字符全为常量时直接变成
// 预先生成的字符串常量。
package optimizeopt

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/resume"
)

// ============================================================================
// 模式
// ============================================================================

// strMode 字节串或 unicode 使用的一组操作
type strMode struct {
	unicode        bool
	newstr         history.Opnum
	strlen         history.Opnum
	strgetitem     history.Opnum
	strsetitem     history.Opnum
	copystrcontent history.Opnum
	osOffset       history.OopSpecIndex
}

var (
	modeString = &strMode{
		newstr: history.NEWSTR, strlen: history.STRLEN, strgetitem: history.STRGETITEM,
		strsetitem: history.STRSETITEM, copystrcontent: history.COPYSTRCONTENT,
	}
	modeUnicode = &strMode{
		unicode: true,
		newstr:  history.NEWUNICODE, strlen: history.UNICODELEN, strgetitem: history.UNICODEGETITEM,
		strsetitem: history.UNICODESETITEM, copystrcontent: history.COPYUNICODECONTENT,
		osOffset: history.UnicodeOffset,
	}
)

func (m *strMode) constant(chars []rune) history.ConstPtr {
	if m.unicode {
		return history.ConstUnicode(string(chars))
	}
	return history.ConstString(string(chars))
}

// ============================================================================
// 发射辅助
// ============================================================================

// strEmitter 在某个优化的下游发出字符串相关操作；为 nil 时只做不需要发出操作的计算
type strEmitter struct {
	opt  *Optimizer
	emit emitFunc
}

func (se *strEmitter) force(v *OptValue) (history.Value, error) { return v.ForceBox(se.opt, se.emit) }

// intAdd a + b；需要发出操作而 se 为 nil 时返回 nil
func intAdd(se *strEmitter, a, b history.Value) (history.Value, error) {
	if ca, ok := a.(history.ConstInt); ok {
		if ca.Value == 0 {
			return b, nil
		}
		if cb, ok := b.(history.ConstInt); ok {
			return history.ConstInt{Value: ca.Value + cb.Value}, nil
		}
	} else if cb, ok := b.(history.ConstInt); ok && cb.Value == 0 {
		return a, nil
	}
	if se == nil {
		return nil, nil
	}
	res := history.NewBox(history.INT)
	return res, se.emit(history.NewOp(history.INT_ADD, []history.Value{a, b}, res, nil))
}

func intSub(se *strEmitter, a, b history.Value) (history.Value, error) {
	if cb, ok := b.(history.ConstInt); ok {
		if cb.Value == 0 {
			return a, nil
		}
		if ca, ok := a.(history.ConstInt); ok {
			return history.ConstInt{Value: ca.Value - cb.Value}, nil
		}
	}
	res := history.NewBox(history.INT)
	return res, se.emit(history.NewOp(history.INT_SUB, []history.Value{a, b}, res, nil))
}

// strgetitem 读一个字符；常量字符串的常量位置直接求值
func (se *strEmitter) strgetitem(s, index history.Value, mode *strMode, res *history.Box) (history.Value, error) {
	if cs, ok := s.(history.ConstPtr); ok {
		if ci, ok := index.(history.ConstInt); ok {
			if str, ok := cs.Value.(*history.StrObj); ok && ci.Value >= 0 && ci.Value < int64(len(str.Chars)) {
				return history.ConstInt{Value: int64(str.Chars[ci.Value])}, nil
			}
		}
	}
	if res == nil {
		res = history.NewBox(history.INT)
	}
	return res, se.emit(history.NewOp(mode.strgetitem, []history.Value{s, index}, res, nil))
}

// copyStrContent 把 src[srcOffset:srcOffset+length] 复制到 target[offset:]；短的复制逐字符展开
func copyStrContent(se *strEmitter, src, target, srcOffset, offset, length history.Value, mode *strMode, needNext bool) (history.Value, error) {
	limit := int64(se.opt.cfg.UnrollVar)
	if _, ok := src.(history.ConstPtr); ok && srcOffset.IsConstant() {
		limit = int64(se.opt.cfg.UnrollConst)
	}
	if n, ok := length.(history.ConstInt); ok && n.Value <= limit {
		for range n.Value {
			ch, err := se.strgetitem(src, srcOffset, mode, nil)
			if err != nil {
				return nil, err
			}
			if srcOffset, err = intAdd(se, srcOffset, history.CONST_1); err != nil {
				return nil, err
			}
			if err := se.emit(history.NewOp(mode.strsetitem, []history.Value{target, offset, ch}, nil, nil)); err != nil {
				return nil, err
			}
			if offset, err = intAdd(se, offset, history.CONST_1); err != nil {
				return nil, err
			}
		}
		return offset, nil
	}
	var next history.Value
	if needNext {
		var err error
		if next, err = intAdd(se, offset, length); err != nil {
			return nil, err
		}
	}
	args := []history.Value{src, target, srcOffset, offset, length}
	return next, se.emit(history.NewOp(mode.copystrcontent, args, nil, nil))
}

// ============================================================================
// 与具体种类无关的操作
// ============================================================================

// vstring 虚拟字符串；分配之后种类信息仍然保留
type vstring interface {
	virtualValue
	mode() *strMode
	strlen(se *strEmitter, v *OptValue) (history.Value, error)
	constantString() ([]rune, bool)
	copyParts(se *strEmitter, v *OptValue, target, offset history.Value) (history.Value, error)
	initializeForced(se *strEmitter, v *OptValue, target, offset history.Value) (history.Value, error)
}

func vstrOf(v *OptValue) vstring {
	vs, _ := v.virt.(vstring)
	return vs
}

// constantStringSpec 值在编译期已知时返回它的字符
func constantStringSpec(v *OptValue) ([]rune, bool) {
	if v.IsConstant() {
		if s, ok := refConst(v).(*history.StrObj); ok {
			return s.Chars, true
		}
		return nil, false
	}
	if vs := vstrOf(v); vs != nil {
		return vs.constantString()
	}
	return nil, false
}

// getStrLen 字符串长度；se 为 nil 且需要发出 STRLEN 时返回 nil
func getStrLen(se *strEmitter, v *OptValue, mode *strMode, res *history.Box) (history.Value, error) {
	if s, ok := constantStringSpec(v); ok {
		return history.ConstInt{Value: int64(len(s))}, nil
	}
	if vs := vstrOf(v); vs != nil {
		return vs.strlen(se, v)
	}
	if se == nil {
		return nil, nil
	}
	v.EnsureNonNull()
	box, err := se.force(v)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = history.NewBox(history.INT)
	}
	return res, se.emit(history.NewOp(mode.strlen, []history.Value{box}, res, nil))
}

func stringCopyParts(se *strEmitter, v *OptValue, target, offset history.Value, mode *strMode) (history.Value, error) {
	if vs := vstrOf(v); vs != nil {
		return vs.copyParts(se, v, target, offset)
	}
	return baseCopyParts(se, v, target, offset, mode)
}

func baseCopyParts(se *strEmitter, v *OptValue, target, offset history.Value, mode *strMode) (history.Value, error) {
	length, err := getStrLen(se, v, mode, nil)
	if err != nil {
		return nil, err
	}
	src, err := se.force(v)
	if err != nil {
		return nil, err
	}
	return copyStrContent(se, src, target, history.CONST_0, offset, length, mode, true)
}

// forceString 分配虚拟字符串；全是常量时变成字符串常量
func forceString(vs vstring, opt *Optimizer, v *OptValue, emit emitFunc) error {
	mode := vs.mode()
	if s, ok := vs.constantString(); ok {
		v.MakeConstant(mode.constant(s))
		return nil
	}
	se := &strEmitter{opt: opt, emit: emit}
	box := v.keybox.(*history.Box)
	v.box = box
	length, err := vs.strlen(se, v)
	if err != nil {
		return err
	}
	if err := emit(history.NewOp(mode.newstr, []history.Value{length}, box, nil)); err != nil {
		return err
	}
	_, err = vs.initializeForced(se, v, box, history.CONST_0)
	return err
}

// ============================================================================
// plain
// ============================================================================

type vStrPlain struct {
	m *strMode
	// chars 中的 nil 表示尚未写入
	chars []*OptValue
}

func (p *vStrPlain) mode() *strMode { return p.m }

func (p *vStrPlain) strlen(*strEmitter, *OptValue) (history.Value, error) {
	return history.ConstInt{Value: int64(len(p.chars))}, nil
}

func (p *vStrPlain) completelyInitialized() bool {
	for _, c := range p.chars {
		if c == nil {
			return false
		}
	}
	return true
}

func (p *vStrPlain) constantString() ([]rune, bool) {
	out := make([]rune, len(p.chars))
	for i, c := range p.chars {
		if c == nil {
			return nil, false
		}
		n, ok := c.ConstInt()
		if !ok {
			return nil, false
		}
		out[i] = rune(n)
	}
	return out, true
}

func (p *vStrPlain) copyParts(se *strEmitter, v *OptValue, target, offset history.Value) (history.Value, error) {
	if !v.IsVirtual() && !p.completelyInitialized() {
		return baseCopyParts(se, v, target, offset, p.m)
	}
	return p.initializeForced(se, v, target, offset)
}

func (p *vStrPlain) initializeForced(se *strEmitter, v *OptValue, target, offset history.Value) (history.Value, error) {
	for _, c := range p.chars {
		if c != nil {
			ch, err := se.force(c)
			if err != nil {
				return nil, err
			}
			if err := se.emit(history.NewOp(p.m.strsetitem, []history.Value{target, offset, ch}, nil, nil)); err != nil {
				return nil, err
			}
		}
		var err error
		if offset, err = intAdd(se, offset, history.CONST_1); err != nil {
			return nil, err
		}
	}
	return offset, nil
}

func (p *vStrPlain) forceInto(opt *Optimizer, v *OptValue, emit emitFunc) error {
	return forceString(p, opt, v, emit)
}

func (p *vStrPlain) shape(opt *Optimizer, v *OptValue) *resume.Shape {
	sh := &resume.Shape{Kind: resume.VStrPlain, Unicode: p.m.unicode}
	for _, c := range p.chars {
		if c == nil {
			sh.Items = append(sh.Items, nil)
		} else {
			sh.Items = append(sh.Items, c.resumeItem())
		}
	}
	return sh
}

// ============================================================================
// concat
// ============================================================================

type vStrConcat struct {
	m           *strMode
	left, right *OptValue
	length      history.Value
}

func (c *vStrConcat) mode() *strMode { return c.m }

func (c *vStrConcat) strlen(se *strEmitter, v *OptValue) (history.Value, error) {
	if c.length != nil {
		return c.length, nil
	}
	l1, err := getStrLen(se, c.left, c.m, nil)
	if err != nil || l1 == nil {
		return nil, err
	}
	l2, err := getStrLen(se, c.right, c.m, nil)
	if err != nil || l2 == nil {
		return nil, err
	}
	n, err := intAdd(se, l1, l2)
	if err != nil {
		return nil, err
	}
	c.length = n
	return n, nil
}

func (c *vStrConcat) constantString() ([]rune, bool) {
	s1, ok := constantStringSpec(c.left)
	if !ok {
		return nil, false
	}
	s2, ok := constantStringSpec(c.right)
	if !ok {
		return nil, false
	}
	return append(append([]rune(nil), s1...), s2...), true
}

func (c *vStrConcat) copyParts(se *strEmitter, v *OptValue, target, offset history.Value) (history.Value, error) {
	offset, err := stringCopyParts(se, c.left, target, offset, c.m)
	if err != nil {
		return nil, err
	}
	return stringCopyParts(se, c.right, target, offset, c.m)
}

func (c *vStrConcat) initializeForced(se *strEmitter, v *OptValue, target, offset history.Value) (history.Value, error) {
	return c.copyParts(se, v, target, offset)
}

func (c *vStrConcat) forceInto(opt *Optimizer, v *OptValue, emit emitFunc) error {
	return forceString(c, opt, v, emit)
}

func (c *vStrConcat) shape(opt *Optimizer, v *OptValue) *resume.Shape {
	return &resume.Shape{
		Kind: resume.VStrConcat, Unicode: c.m.unicode,
		Items: []history.Value{c.left.resumeItem(), c.right.resumeItem()},
	}
}

// ============================================================================
// slice
// ============================================================================

type vStrSlice struct {
	m             *strMode
	str           *OptValue
	start, length *OptValue
}

func (s *vStrSlice) mode() *strMode { return s.m }

func (s *vStrSlice) strlen(*strEmitter, *OptValue) (history.Value, error) { return s.length.box, nil }

func (s *vStrSlice) constantString() ([]rune, bool) {
	start, ok1 := s.start.ConstInt()
	length, ok2 := s.length.ConstInt()
	if !ok1 || !ok2 {
		return nil, false
	}
	full, ok := constantStringSpec(s.str)
	if !ok || start < 0 || length < 0 || start+length > int64(len(full)) {
		return nil, false
	}
	return full[start : start+length], true
}

func (s *vStrSlice) copyParts(se *strEmitter, v *OptValue, target, offset history.Value) (history.Value, error) {
	src, err := se.force(s.str)
	if err != nil {
		return nil, err
	}
	return copyStrContent(se, src, target, s.start.box, offset, s.length.box, s.m, true)
}

func (s *vStrSlice) initializeForced(se *strEmitter, v *OptValue, target, offset history.Value) (history.Value, error) {
	return s.copyParts(se, v, target, offset)
}

func (s *vStrSlice) forceInto(opt *Optimizer, v *OptValue, emit emitFunc) error {
	return forceString(s, opt, v, emit)
}

func (s *vStrSlice) shape(opt *Optimizer, v *OptValue) *resume.Shape {
	return &resume.Shape{
		Kind: resume.VStrSlice, Unicode: s.m.unicode,
		Items: []history.Value{s.str.resumeItem(), s.start.box, s.length.box},
	}
}

// ============================================================================
// 优化
// ============================================================================

// OptStringPass 字符串操作的虚拟化与特殊调用的改写
type OptStringPass struct {
	optBase
}

func (o *OptStringPass) se() *strEmitter { return &strEmitter{opt: o.opt, emit: o.emit} }

func (o *OptStringPass) makeVString(box *history.Box, vs vstring) *OptValue {
	val := newVirtualValue(box, vs, LEVEL_NONNULL)
	o.makeEqualTo(box, val)
	return val
}

func (o *OptStringPass) PropagateForward(op *history.ResOp) error {
	switch op.Opnum {
	case history.NEWSTR:
		return o.optimizeNewstr(op, modeString)
	case history.NEWUNICODE:
		return o.optimizeNewstr(op, modeUnicode)
	case history.STRSETITEM, history.UNICODESETITEM:
		v := o.getValue(op.Arg(0))
		if p, ok := v.virt.(*vStrPlain); ok && v.IsVirtual() {
			if i, ok := o.getValue(op.Arg(1)).ConstInt(); ok && i >= 0 && i < int64(len(p.chars)) {
				p.chars[i] = o.getValue(op.Arg(2))
				return nil
			}
		}
		v.EnsureNonNull()
		return o.emit(op)
	case history.STRGETITEM:
		return o.optimizeStrgetitem(op, modeString)
	case history.UNICODEGETITEM:
		return o.optimizeStrgetitem(op, modeUnicode)
	case history.STRLEN:
		return o.optimizeStrlen(op, modeString)
	case history.UNICODELEN:
		return o.optimizeStrlen(op, modeUnicode)
	case history.COPYSTRCONTENT:
		return o.optimizeCopyStrContent(op, modeString)
	case history.COPYUNICODECONTENT:
		return o.optimizeCopyStrContent(op, modeUnicode)
	case history.CALL, history.CALL_PURE:
		done, err := o.optimizeCall(op)
		if done || err != nil {
			return err
		}
	case history.GUARD_NO_EXCEPTION:
		if o.lastEmitted == removed {
			return nil
		}
	}
	return o.emit(op)
}

func (o *OptStringPass) optimizeNewstr(op *history.ResOp, mode *strMode) error {
	if n, ok := o.getValue(op.Arg(0)).ConstInt(); ok && n >= 0 && n <= int64(o.opt.cfg.MaxConstLen) {
		o.makeVString(op.Result, &vStrPlain{m: mode, chars: make([]*OptValue, n)})
		return nil
	}
	o.getValue(op.Result).EnsureNonNull()
	if err := o.emit(op); err != nil {
		return err
	}
	o.opt.registerPure(mode.strlen, []history.Value{op.Result}, op.Arg(0))
	return nil
}

func (o *OptStringPass) optimizeStrgetitem(op *history.ResOp, mode *strMode) error {
	res, err := o.strgetitem(o.getValue(op.Arg(0)), o.getValue(op.Arg(1)), mode, op.Result)
	if err != nil {
		return err
	}
	if _, ok := o.opt.values[op.Result]; !ok {
		o.makeEqualTo(op.Result, res)
	}
	return nil
}

// strgetitem 尽量从虚拟字符串直接取出字符
func (o *OptStringPass) strgetitem(v, index *OptValue, mode *strMode, res *history.Box) (*OptValue, error) {
	se := o.se()
	v.EnsureNonNull()
	if sl, ok := v.virt.(*vStrSlice); ok && v.IsVirtual() {
		ibox, err := se.force(index)
		if err != nil {
			return nil, err
		}
		full, err := intAdd(se, sl.start.box, ibox)
		if err != nil {
			return nil, err
		}
		v, index = sl.str, o.getValue(full)
	}
	if p, ok := v.virt.(*vStrPlain); ok {
		if i, ok := index.ConstInt(); ok && i >= 0 && i < int64(len(p.chars)) && p.chars[i] != nil {
			return p.chars[i], nil
		}
	}
	if c, ok := v.virt.(*vStrConcat); ok {
		if i, ok := index.ConstInt(); ok {
			l1, err := getStrLen(se, c.left, mode, nil)
			if err != nil {
				return nil, err
			}
			if n, ok := l1.(history.ConstInt); ok {
				if i < n.Value {
					return o.strgetitem(c.left, index, mode, nil)
				}
				return o.strgetitem(c.right, o.getValue(history.ConstInt{Value: i - n.Value}), mode, nil)
			}
		}
	}
	sbox, err := se.force(v)
	if err != nil {
		return nil, err
	}
	ibox, err := se.force(index)
	if err != nil {
		return nil, err
	}
	r, err := se.strgetitem(sbox, ibox, mode, res)
	if err != nil {
		return nil, err
	}
	return o.getValue(r), nil
}

func (o *OptStringPass) optimizeStrlen(op *history.ResOp, mode *strMode) error {
	length, err := getStrLen(o.se(), o.getValue(op.Arg(0)), mode, op.Result)
	if err != nil {
		return err
	}
	if b, ok := length.(*history.Box); !ok || b != op.Result {
		o.makeEqualTo(op.Result, o.getValue(length))
	}
	return nil
}

func (o *OptStringPass) optimizeCopyStrContent(op *history.ResOp, mode *strMode) error {
	src := o.getValue(op.Arg(0))
	dst := o.getValue(op.Arg(1))
	srcStart := o.getValue(op.Arg(2))
	dstStart := o.getValue(op.Arg(3))
	length := o.getValue(op.Arg(4))
	dp, dstVirtual := dst.virt.(*vStrPlain)
	dstVirtual = dstVirtual && dst.IsVirtual()

	n, lenConst := length.ConstInt()
	if lenConst && n == 0 {
		return nil
	}
	s0, ok1 := srcStart.ConstInt()
	d0, ok2 := dstStart.ConstInt()
	srcKnown := src.IsVirtual() || src.IsConstant()
	if srcKnown && ok1 && ok2 && lenConst && (n < 20 || dstVirtual) {
		for i := range n {
			ch, err := o.strgetitem(src, o.getValue(history.ConstInt{Value: i + s0}), mode, nil)
			if err != nil {
				return err
			}
			if dstVirtual && d0+i < int64(len(dp.chars)) {
				dp.chars[d0+i] = ch
				continue
			}
			dbox, err := o.force(dst)
			if err != nil {
				return err
			}
			cbox, err := o.force(ch)
			if err != nil {
				return err
			}
			args := []history.Value{dbox, history.ConstInt{Value: i + d0}, cbox}
			if err := o.emit(history.NewOp(mode.strsetitem, args, nil, nil)); err != nil {
				return err
			}
		}
		return nil
	}
	boxes := make([]history.Value, 5)
	for i, v := range []*OptValue{src, dst, srcStart, dstStart, length} {
		b, err := o.force(v)
		if err != nil {
			return err
		}
		boxes[i] = b
	}
	_, err := copyStrContent(o.se(), boxes[0], boxes[1], boxes[2], boxes[3], boxes[4], mode, false)
	return err
}

// ============================================================================
// 特殊调用
// ============================================================================

func (o *OptStringPass) optimizeCall(op *history.ResOp) (bool, error) {
	cd := op.CallDescr()
	if cd == nil || cd.Effect == nil {
		return false, nil
	}
	idx := cd.Effect.Oopspec
	switch idx {
	case history.OS_NONE:
		return false, nil
	case history.OS_STR2UNICODE:
		return o.optStr2Unicode(op), nil
	case history.OS_SHRINK_ARRAY:
		return o.optShrinkArray(op), nil
	}
	mode := modeString
	if idx >= history.OS_UNI_CONCAT && idx <= history.OS_UNI_CMP {
		mode = modeUnicode
		idx -= history.UnicodeOffset
	}
	switch idx {
	case history.OS_STR_CONCAT:
		left, right := o.getValue(op.Arg(1)), o.getValue(op.Arg(2))
		left.EnsureNonNull()
		right.EnsureNonNull()
		o.makeVString(op.Result, &vStrConcat{m: mode, left: left, right: right})
		o.lastEmitted = removed
		return true, nil
	case history.OS_STR_SLICE:
		return true, o.optStrSlice(op, mode)
	case history.OS_STR_EQUAL:
		return o.optStrEqual(op, mode)
	case history.OS_STR_CMP:
		return o.optStrCmp(op, mode)
	}
	return false, nil
}

func (o *OptStringPass) optStrSlice(op *history.ResOp, mode *strMode) error {
	se := o.se()
	str, start, stop := o.getValue(op.Arg(1)), o.getValue(op.Arg(2)), o.getValue(op.Arg(3))
	str.EnsureNonNull()
	stopBox, err := o.force(stop)
	if err != nil {
		return err
	}
	startBox, err := o.force(start)
	if err != nil {
		return err
	}
	length, err := intSub(se, stopBox, startBox)
	if err != nil {
		return err
	}
	if inner, ok := str.virt.(*vStrSlice); ok && str.IsVirtual() {
		// s[i:j][k:l]
		full, err := intAdd(se, inner.start.box, startBox)
		if err != nil {
			return err
		}
		str, start = inner.str, o.getValue(full)
	}
	o.makeVString(op.Result, &vStrSlice{m: mode, str: str, start: start, length: o.getValue(length)})
	o.lastEmitted = removed
	return nil
}

func (o *OptStringPass) optStrEqual(op *history.ResOp, mode *strMode) (bool, error) {
	v1, v2 := o.getValue(op.Arg(1)), o.getValue(op.Arg(2))
	l1, err := getStrLen(nil, v1, mode, nil)
	if err != nil {
		return false, err
	}
	l2, err := getStrLen(nil, v2, mode, nil)
	if err != nil {
		return false, err
	}
	if c1, ok := l1.(history.ConstInt); ok {
		if c2, ok := l2.(history.ConstInt); ok && c1.Value != c2.Value {
			o.makeConstant(op.Result, history.CONST_0)
			return true, nil
		}
	}
	for _, pair := range [2][2]*OptValue{{v1, v2}, {v2, v1}} {
		if done, err := o.strEqualLevel1(pair[0], pair[1], op.Result, mode); done || err != nil {
			return done, err
		}
	}
	for _, pair := range [2][2]*OptValue{{v1, v2}, {v2, v1}} {
		if done, err := o.strEqualLevel2(pair[0], pair[1], op.Result, mode); done || err != nil {
			return done, err
		}
	}
	if v1.IsNonNull() && v2.IsNonNull() {
		which := history.OS_STREQ_NONNULL
		if l1 != nil && l2 != nil && history.Same(l1, l2) {
			which = history.OS_STREQ_LENGTHOK
		}
		b1, err := o.force(v1)
		if err != nil {
			return false, err
		}
		b2, err := o.force(v2)
		if err != nil {
			return false, err
		}
		return true, o.generateModifiedCall(which, []history.Value{b1, b2}, op.Result, mode)
	}
	return false, nil
}

func (o *OptStringPass) strEqualLevel1(v1, v2 *OptValue, result *history.Box, mode *strMode) (bool, error) {
	l2, err := getStrLen(nil, v2, mode, nil)
	if err != nil {
		return false, err
	}
	if c2, ok := l2.(history.ConstInt); ok {
		switch c2.Value {
		case 0:
			var se *strEmitter
			if v1.IsNonNull() {
				se = o.se()
			}
			length, err := getStrLen(se, v1, mode, nil)
			if err != nil {
				return false, err
			}
			if length != nil {
				return true, o.opt.sendExtraOperation(history.NewOp(history.INT_EQ, []history.Value{length, history.CONST_0}, result, nil))
			}
		case 1:
			l1, err := getStrLen(nil, v1, mode, nil)
			if err != nil {
				return false, err
			}
			if c1, ok := l1.(history.ConstInt); ok && c1.Value == 1 {
				// 两个单字符比较
				ch1, ch2, err := o.firstChars(v1, v2, mode)
				if err != nil {
					return false, err
				}
				return true, o.opt.sendExtraOperation(history.NewOp(history.INT_EQ, []history.Value{ch1, ch2}, result, nil))
			}
			if sl, ok := v1.virt.(*vStrSlice); ok && v1.IsVirtual() {
				ch, err := o.strgetitem(v2, o.getValue(history.CONST_0), mode, nil)
				if err != nil {
					return false, err
				}
				args, err := o.forceAll(sl.str, sl.start, sl.length, ch)
				if err != nil {
					return false, err
				}
				return true, o.generateModifiedCall(history.OS_STREQ_SLICE_CHAR, args, result, mode)
			}
		}
	}
	if v2.IsNull() {
		if v1.IsNonNull() {
			o.makeConstant(result, history.CONST_0)
			return true, nil
		}
		if v1.IsNull() {
			o.makeConstant(result, history.CONST_1)
			return true, nil
		}
		b1, err := o.force(v1)
		if err != nil {
			return false, err
		}
		return true, o.emit(history.NewOp(history.PTR_EQ, []history.Value{b1, history.Null}, result, nil))
	}
	return false, nil
}

func (o *OptStringPass) strEqualLevel2(v1, v2 *OptValue, result *history.Box, mode *strMode) (bool, error) {
	l2, err := getStrLen(nil, v2, mode, nil)
	if err != nil {
		return false, err
	}
	if c2, ok := l2.(history.ConstInt); ok && c2.Value == 1 {
		ch, err := o.strgetitem(v2, o.getValue(history.CONST_0), mode, nil)
		if err != nil {
			return false, err
		}
		which := history.OS_STREQ_CHECKNULL_CHAR
		if v1.IsNonNull() {
			which = history.OS_STREQ_NONNULL_CHAR
		}
		args, err := o.forceAll(v1, ch)
		if err != nil {
			return false, err
		}
		return true, o.generateModifiedCall(which, args, result, mode)
	}
	if sl, ok := v1.virt.(*vStrSlice); ok && v1.IsVirtual() {
		which := history.OS_STREQ_SLICE_CHECKNULL
		if v2.IsNonNull() {
			which = history.OS_STREQ_SLICE_NONNULL
		}
		args, err := o.forceAll(sl.str, sl.start, sl.length, v2)
		if err != nil {
			return false, err
		}
		return true, o.generateModifiedCall(which, args, result, mode)
	}
	return false, nil
}

func (o *OptStringPass) optStrCmp(op *history.ResOp, mode *strMode) (bool, error) {
	v1, v2 := o.getValue(op.Arg(1)), o.getValue(op.Arg(2))
	l1, err := getStrLen(nil, v1, mode, nil)
	if err != nil {
		return false, err
	}
	l2, err := getStrLen(nil, v2, mode, nil)
	if err != nil {
		return false, err
	}
	c1, ok1 := l1.(history.ConstInt)
	c2, ok2 := l2.(history.ConstInt)
	if !ok1 || !ok2 || c1.Value != 1 || c2.Value != 1 {
		return false, nil
	}
	ch1, ch2, err := o.firstChars(v1, v2, mode)
	if err != nil {
		return false, err
	}
	return true, o.opt.sendExtraOperation(history.NewOp(history.INT_SUB, []history.Value{ch1, ch2}, op.Result, nil))
}

func (o *OptStringPass) optStr2Unicode(op *history.ResOp) bool {
	s, ok := constantStringSpec(o.getValue(op.Arg(1)))
	if !ok {
		return false
	}
	for _, r := range s {
		// 非 ASCII 字节按 ascii 解码会失败，留给运行时
		if r >= 128 {
			return false
		}
	}
	o.makeConstant(op.Result, modeUnicode.constant(s))
	o.lastEmitted = removed
	return true
}

func (o *OptStringPass) optShrinkArray(op *history.ResOp) bool {
	v1, v2 := o.getValue(op.Arg(1)), o.getValue(op.Arg(2))
	n, ok := v2.ConstInt()
	p, isPlain := v1.virt.(*vStrPlain)
	if !ok || !isPlain || !v1.IsVirtual() || n < 0 || n > int64(len(p.chars)) {
		return false
	}
	p.chars = p.chars[:n]
	o.lastEmitted = removed
	o.makeEqualTo(op.Result, v1)
	return true
}

func (o *OptStringPass) firstChars(v1, v2 *OptValue, mode *strMode) (history.Value, history.Value, error) {
	zero := o.getValue(history.CONST_0)
	c1, err := o.strgetitem(v1, zero, mode, nil)
	if err != nil {
		return nil, nil, err
	}
	c2, err := o.strgetitem(v2, zero, mode, nil)
	if err != nil {
		return nil, nil, err
	}
	b1, err := o.force(c1)
	if err != nil {
		return nil, nil, err
	}
	b2, err := o.force(c2)
	if err != nil {
		return nil, nil, err
	}
	return b1, b2, nil
}

func (o *OptStringPass) forceAll(vals ...*OptValue) ([]history.Value, error) {
	out := make([]history.Value, len(vals))
	for i, v := range vals {
		b, err := o.force(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// generateModifiedCall 改为调用更专门的辅助函数
func (o *OptStringPass) generateModifiedCall(idx history.OopSpecIndex, args []history.Value, result *history.Box, mode *strMode) error {
	idx += mode.osOffset
	info, ok := o.opt.callinfo.Lookup(idx)
	if !ok {
		return fmt.Errorf("no helper registered for oopspec %d", idx)
	}
	callArgs := append([]history.Value{history.ConstPtr{Value: info.Func}}, args...)
	return o.emit(history.NewOp(history.CALL, callArgs, result, info.Descr))
}
