package errors

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type name string

func (n name) String() string { return string(n) }

// TestCodeOf 测试经过包装后仍能取出错误码
func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"annotator", NewAnnotatorError(A0005, "attr"), A0005},
		{"union", NewUnionError(name("Int"), name("Str"), ""), A0200},
		{"typer", NewTyperError(T0001, "no repr"), T0001},
		{"missing lltype", NewMissingLLTypeError("getattr", name("IntRepr")), T0003},
		{"invalid loop", fmt.Errorf("optimize: %w", &InvalidLoop{Reason: "x"}), J0001},
		{"spill", &NoVariableToSpill{Forbidden: 3}, J0002},
		{"immutable", &BogusImmutableField{Descr: "f"}, J0003},
		{"backend", &BackendError{Unit: "loop 1", Err: errors.New("boom")}, J0004},
		{"raw", &RawMemoryError{Code: R0003, Op: "free"}, R0003},
		{"plain", errors.New("plain"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestPositionOf 测试位置只附加一次
func TestPositionOf(t *testing.T) {
	first := Position{Graph: "f", Block: 1, Op: 2}
	err := NewTyperError(T0002, "bad").At(first).At(Position{Graph: "g"})
	pos, ok := PositionOf(fmt.Errorf("rtype: %w", err))
	if !ok || pos != first {
		t.Errorf("position = %v, %v", pos, ok)
	}
	if _, ok := PositionOf(&InvalidLoop{}); ok {
		t.Error("jit errors carry no position")
	}
	if got := err.Error(); !strings.HasPrefix(got, "f block@1 op=2: [T0002]") {
		t.Errorf("Error() = %q", got)
	}

	m := NewMissingLLTypeError("len", name("NoneRepr"))
	m.At(first)
	if pos, ok := PositionOf(m); !ok || pos != first {
		t.Errorf("missing lltype position = %v", pos)
	}
}

// TestHelpers 测试错误分类辅助函数
func TestHelpers(t *testing.T) {
	if !IsInvalidLoop(fmt.Errorf("wrap: %w", &InvalidLoop{})) {
		t.Error("wrapped InvalidLoop not recognised")
	}
	if !IsHarmlesslyBlocked(&HarmlesslyBlocked{Reason: "x"}) || IsHarmlesslyBlocked(errors.New("x")) {
		t.Error("IsHarmlesslyBlocked")
	}
	inner := errors.New("disk")
	if !errors.Is(&BackendError{Err: inner}, inner) {
		t.Error("BackendError should unwrap")
	}
	if CodeMessage(J0002) != "no variable to spill" || CodeMessage("Z9999") != "unknown error" {
		t.Error("CodeMessage")
	}
}

// TestFormatter 测试诊断格式化与上下文标记
func TestFormatter(t *testing.T) {
	err := NewAnnotatorError(A0001, "no transfer for hash")
	err.Pos = Position{Graph: "f", Block: 0, Op: 1}
	err.Source = []string{"v0 = add(x, 1)", "v1 = hash(v0)", "v2 = mul(v1, 2)"}

	f := &Formatter{ShowSource: true, MaxContext: 1}
	out := f.FormatError(err)
	for _, want := range []string{"error[A0001]: no transfer for hash", "--> f block@0 op=1", "1 | v1 = hash(v0)", "^^^^"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("colors should be disabled")
	}
}

// TestReporter 测试报告器收集并输出诊断
func TestReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)
	r.SetFormatter(&Formatter{})
	r.ReportError(NewTyperError(T0004, "finalizer allocates"))
	r.Warn(Position{Graph: "g", Block: -1, Op: -1}, "unused %s", "x")

	if !r.HasErrors() || len(r.Errors()) != 1 || len(r.Warnings()) != 1 {
		t.Fatalf("summary = %s", r.Summary())
	}
	if r.Summary() != "1 error(s), 1 warning(s)" {
		t.Errorf("summary = %s", r.Summary())
	}
	out := buf.String()
	if !strings.Contains(out, "error[T0004]: finalizer allocates") || !strings.Contains(out, "warning[?]: unused x") {
		t.Errorf("output = %q", out)
	}
}
