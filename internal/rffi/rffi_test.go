package rffi

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/multierr"

	errs "github.com/tangzhangming/solatrans/internal/errors"
)

// failingAllocator 释放总是失败
type failingAllocator struct{}

func (failingAllocator) alloc(n int) ([]byte, error) { return make([]byte, n), nil }
func (failingAllocator) free([]byte) error           { return errors.New("device busy") }

// TestStr2Charp 测试 C 字符串的转换与释放
func TestStr2Charp(t *testing.T) {
	a := NewArena()
	b, err := a.Str2Charp("hello")
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 6 || b.Bytes()[5] != 0 {
		t.Errorf("buffer = %v", b.Bytes())
	}
	if got := Charp2Str(b); got != "hello" {
		t.Errorf("Charp2Str = %q", got)
	}
	if got := Charp2StrN(b, 3); got != "hel" {
		t.Errorf("Charp2StrN = %q", got)
	}
	if a.LiveBytes() != 6 {
		t.Errorf("live bytes = %d", a.LiveBytes())
	}
	if err := a.FreeCharp(b); err != nil {
		t.Fatal(err)
	}
	if err := a.FreeCharp(b); errs.CodeOf(err) != errs.R0003 {
		t.Errorf("double free = %v", err)
	}
	if err := a.CheckLeaks(); err != nil {
		t.Error(err)
	}
}

// TestScopedRelease 测试回调返回或出错后缓冲区都被释放
func TestScopedRelease(t *testing.T) {
	a := NewArena()
	var seen *RawBuffer
	err := a.ScopedStr2Charp("name", func(b *RawBuffer) error {
		seen = b
		if Charp2Str(b) != "name" {
			t.Errorf("content = %q", Charp2Str(b))
		}
		return nil
	})
	if err != nil || !seen.Freed() {
		t.Errorf("err = %v, freed = %v", err, seen.Freed())
	}

	boom := errors.New("boom")
	err = a.ScopedBuffer(64, func(b *RawBuffer) error {
		seen = b
		copy(b.Bytes(), "scratch")
		return boom
	})
	if !errors.Is(err, boom) || !seen.Freed() {
		t.Errorf("err = %v, freed = %v", err, seen.Freed())
	}

	var bufs []*RawBuffer
	err = a.ScopedCharpArray([]string{"a", "bc", ""}, func(bs []*RawBuffer) error {
		bufs = bs
		if len(bs) != 3 || Charp2Str(bs[1]) != "bc" {
			t.Errorf("array = %v", bs)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range bufs {
		if !b.Freed() {
			t.Errorf("%s was not released", b.Tag())
		}
	}
	if a.LiveBytes() != 0 {
		t.Errorf("live bytes = %d", a.LiveBytes())
	}
}

// TestLeakFinder 测试泄漏检查与批量释放
func TestLeakFinder(t *testing.T) {
	a := NewArena()
	if _, err := a.Malloc(16, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Malloc(0, "second"); err != nil {
		t.Fatal(err)
	}
	leaks := a.Leaks()
	if len(leaks) != 2 || leaks[0].Tag != "first" || leaks[1].Size != 0 {
		t.Fatalf("leaks = %v", leaks)
	}
	err := a.CheckLeaks()
	if err == nil || !strings.Contains(err.Error(), "2 raw buffers leaked") {
		t.Errorf("CheckLeaks = %v", err)
	}
	if err := a.FreeAll(); err != nil {
		t.Fatal(err)
	}
	if a.CheckLeaks() != nil {
		t.Error("FreeAll should release everything")
	}
	if _, err := a.Malloc(-1, "neg"); errs.CodeOf(err) != errs.R0001 {
		t.Errorf("negative size = %v", err)
	}
}

// TestFreeAllAggregatesErrors 测试每个释放失败都被汇总
func TestFreeAllAggregatesErrors(t *testing.T) {
	a := &Arena{alloc: failingAllocator{}, live: make(map[uint64]*RawBuffer)}
	for i := 0; i < 3; i++ {
		if _, err := a.Malloc(8, "x"); err != nil {
			t.Fatal(err)
		}
	}
	err := a.FreeAll()
	if n := len(multierr.Errors(err)); n != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", n, err)
	}
	if errs.CodeOf(multierr.Errors(err)[0]) != errs.R0002 {
		t.Errorf("code = %q", errs.CodeOf(err))
	}
	if len(a.Leaks()) != 0 {
		t.Error("failed releases still leave the arena")
	}
}
