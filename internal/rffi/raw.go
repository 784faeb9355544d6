// raw.go - 原始缓冲区
//
// 翻译期间传给外部代码的字符串与临时指针数组放在 GC 之外的原始内存里。
// 每次申请都必须在所有退出路径上释放：Scoped* 系列在回调返回后释放，
// 其余情况由调用方显式 Free。Arena 记录所有存活的缓冲区，用于泄漏检查。
package rffi

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	errs "github.com/tangzhangming/solatrans/internal/errors"
)

// allocator 底层内存来源
type allocator interface {
	alloc(n int) ([]byte, error)
	free(b []byte) error
}

// RawBuffer 一块原始内存
type RawBuffer struct {
	id    uint64
	data  []byte
	size  int
	tag   string
	arena *Arena
	freed bool
}

// Bytes 可用部分
func (b *RawBuffer) Bytes() []byte { return b.data[:b.size] }

// Len 申请的字节数
func (b *RawBuffer) Len() int { return b.size }

// Tag 申请时给的标签
func (b *RawBuffer) Tag() string { return b.tag }

// Freed 是否已释放
func (b *RawBuffer) Freed() bool { return b.freed }

// Leak 一块未释放的缓冲区
type Leak struct {
	ID   uint64
	Size int
	Tag  string
}

func (l Leak) String() string { return fmt.Sprintf("#%d %s (%d bytes)", l.ID, l.Tag, l.Size) }

// Arena 分配原始缓冲区并跟踪存活的缓冲区
type Arena struct {
	mu     sync.Mutex
	alloc  allocator
	live   map[uint64]*RawBuffer
	nextID atomic.Uint64
	total  atomic.Int64
}

// NewArena 使用平台默认的分配器
func NewArena() *Arena {
	return &Arena{alloc: defaultAllocator(), live: make(map[uint64]*RawBuffer)}
}

// ============================================================================
// 申请与释放
// ============================================================================

// Malloc 申请 n 字节，内容为零
func (a *Arena) Malloc(n int, tag string) (*RawBuffer, error) {
	if n < 0 {
		return nil, &errs.RawMemoryError{Code: errs.R0001, Op: "malloc " + tag, Err: fmt.Errorf("negative size %d", n)}
	}
	// 零字节也给出可寻址的一块
	data, err := a.alloc.alloc(max(n, 1))
	if err != nil {
		return nil, &errs.RawMemoryError{Code: errs.R0001, Op: "malloc " + tag, Err: err}
	}
	b := &RawBuffer{id: a.nextID.Inc(), data: data, size: n, tag: tag, arena: a}
	a.mu.Lock()
	a.live[b.id] = b
	a.mu.Unlock()
	a.total.Add(int64(n))
	return b, nil
}

// Free 释放缓冲区；重复释放返回 R0003
func (a *Arena) Free(b *RawBuffer) error {
	if b == nil {
		return nil
	}
	a.mu.Lock()
	if b.freed || b.arena != a {
		a.mu.Unlock()
		return &errs.RawMemoryError{Code: errs.R0003, Op: "free " + b.tag}
	}
	b.freed = true
	delete(a.live, b.id)
	a.mu.Unlock()
	a.total.Sub(int64(b.size))
	data := b.data
	b.data = nil
	if err := a.alloc.free(data); err != nil {
		return &errs.RawMemoryError{Code: errs.R0002, Op: "free " + b.tag, Err: err}
	}
	return nil
}

// FreeAll 释放所有存活的缓冲区，汇总每一个失败
func (a *Arena) FreeAll() error {
	var err error
	for _, b := range a.liveBuffers() {
		err = multierr.Append(err, a.Free(b))
	}
	return err
}

// ============================================================================
// 泄漏检查
// ============================================================================

func (a *Arena) liveBuffers() []*RawBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*RawBuffer, 0, len(a.live))
	for _, b := range a.live {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Leaks 按申请顺序列出未释放的缓冲区
func (a *Arena) Leaks() []Leak {
	var out []Leak
	for _, b := range a.liveBuffers() {
		out = append(out, Leak{ID: b.id, Size: b.size, Tag: b.tag})
	}
	return out
}

// LiveBytes 未释放的字节数
func (a *Arena) LiveBytes() int64 { return a.total.Load() }

// CheckLeaks 有未释放的缓冲区时返回错误
func (a *Arena) CheckLeaks() error {
	leaks := a.Leaks()
	if len(leaks) == 0 {
		return nil
	}
	names := make([]string, len(leaks))
	for i, l := range leaks {
		names[i] = l.String()
	}
	return fmt.Errorf("%d raw buffers leaked: %s", len(leaks), strings.Join(names, ", "))
}

// ============================================================================
// 字符串
// ============================================================================

// Str2Charp 复制 s 并在末尾加 NUL
func (a *Arena) Str2Charp(s string) (*RawBuffer, error) {
	b, err := a.Malloc(len(s)+1, "str2charp")
	if err != nil {
		return nil, err
	}
	copy(b.data, s)
	b.data[len(s)] = 0
	return b, nil
}

// Charp2Str 读到第一个 NUL 为止
func Charp2Str(b *RawBuffer) string {
	p := b.Bytes()
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}

// Charp2StrN 读取前 n 个字节，忽略其中的 NUL
func Charp2StrN(b *RawBuffer, n int) string {
	p := b.Bytes()
	if n < len(p) {
		p = p[:n]
	}
	return string(p)
}

// FreeCharp 释放 Str2Charp 得到的缓冲区
func (a *Arena) FreeCharp(b *RawBuffer) error { return a.Free(b) }

// ScopedStr2Charp 在 fn 执行期间提供 s 的 C 字符串副本，返回后释放
func (a *Arena) ScopedStr2Charp(s string, fn func(*RawBuffer) error) (err error) {
	b, err := a.Str2Charp(s)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.FreeCharp(b)) }()
	return fn(b)
}

// ScopedBuffer 在 fn 执行期间提供 n 字节的缓冲区，返回后释放
func (a *Arena) ScopedBuffer(n int, fn func(*RawBuffer) error) (err error) {
	b, err := a.Malloc(n, "scoped")
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Free(b)) }()
	return fn(b)
}

// ScopedCharpArray 把多个字符串转换为 C 字符串，fn 返回后全部释放
func (a *Arena) ScopedCharpArray(strs []string, fn func([]*RawBuffer) error) (err error) {
	bufs := make([]*RawBuffer, 0, len(strs))
	defer func() {
		for _, b := range bufs {
			err = multierr.Append(err, a.FreeCharp(b))
		}
	}()
	for _, s := range strs {
		b, err := a.Str2Charp(s)
		if err != nil {
			return err
		}
		bufs = append(bufs, b)
	}
	return fn(bufs)
}
