package translator

import (
	"strings"
	"testing"

	"go.uber.org/multierr"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/config"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/compile"
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

func mustSample(t *testing.T, name string) Entry {
	t.Helper()
	e, ok := Sample(name)
	if !ok {
		t.Fatalf("no sample %q", name)
	}
	return e
}

// TestTranslateSamples 测试示例程序走完全部阶段
func TestTranslateSamples(t *testing.T) {
	for _, name := range SampleNames() {
		t.Run(name, func(t *testing.T) {
			ctx := New(nil, nil, nil)
			if err := ctx.Translate(mustSample(t, name)); err != nil {
				t.Fatal(err)
			}
			if ctx.Database == nil || len(ctx.Database.FuncNodes()) == 0 {
				t.Fatal("database should hold the entry function")
			}
			s := ctx.Stats()
			if s.Entries != 1 || s.Graphs != 1 || s.Operations == 0 {
				t.Errorf("stats = %+v", s)
			}
			if len(s.Phases) != 3 {
				t.Errorf("phases = %+v", s.Phases)
			}
			if ctx.Reporter.HasErrors() {
				t.Errorf("unexpected diagnostics: %s", ctx.Reporter.Summary())
			}
		})
	}
}

// TestAddEntriesAggregates 测试多个失败入口的错误全部合并报告
func TestAddEntriesAggregates(t *testing.T) {
	ctx := New(nil, nil, nil)
	bad := mustSample(t, "double")
	bad.Args = append(bad.Args, annotation.NewInteger(false))
	other := mustSample(t, "count")
	other.Args = nil

	err := ctx.AddEntries(bad, mustSample(t, "count"), other)
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", n, err)
	}
	if len(ctx.Reporter.Errors()) != 2 {
		t.Errorf("reported %s", ctx.Reporter.Summary())
	}
	if len(ctx.Entries()) != 1 {
		t.Errorf("entries = %d", len(ctx.Entries()))
	}
}

// TestPhaseErrors 测试阶段错误保留错误码
func TestPhaseErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func(*TranslationContext) error
		code string
	}{
		{"annotate without entries", (*TranslationContext).Annotate, errs.A0001},
		{"database before rtype", (*TranslationContext).BuildDatabase, errs.T0001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := New(nil, nil, nil)
			err := tt.run(ctx)
			if err == nil {
				t.Fatal("expected an error")
			}
			if code := errs.CodeOf(err); code != tt.code {
				t.Errorf("code = %s, want %s", code, tt.code)
			}
			if !ctx.Reporter.HasErrors() {
				t.Error("error should be reported")
			}
		})
	}
}

// TestReport 测试 JSON 报告包含翻译与 JIT 两部分
func TestReport(t *testing.T) {
	cfg := config.Default()
	cfg.Translation.GC = "ref"
	ctx := New(cfg, nil, nil)
	if err := ctx.Translate(mustSample(t, "double")); err != nil {
		t.Fatal(err)
	}
	data, err := ctx.Report(nil)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, `"gc_policy": "ref"`) || strings.Contains(out, `"jit"`) {
		t.Errorf("report = %s", out)
	}

	jit := ctx.NewJIT()
	if data, err = ctx.Report(jit); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"jit"`) {
		t.Errorf("report = %s", data)
	}
}

// TestJITRun 测试循环守卫变热后接上桥，再次运行走桥返回
func TestJITRun(t *testing.T) {
	cfg := config.Default()
	cfg.JIT.TraceEagerness = 1
	ctx := New(cfg, nil, nil)
	jit := ctx.NewJIT()

	h, inputargs, jumpargs := CountingTrace(10)
	token, err := jit.Compiler.CompileLoop("count", h, 0, inputargs, jumpargs)
	if err != nil || token == nil {
		t.Fatalf("CompileLoop: %v, %v", token, err)
	}

	args := []history.Value{history.ConstInt{Value: 0}}
	exit, err := jit.Run("count", args, FinishTracer{})
	if err != nil {
		t.Fatal(err)
	}
	if exit.Kind != compile.ExitGuard || exit.Bridge == nil {
		t.Fatalf("first run should compile a bridge: %+v", exit)
	}

	exit, err = jit.Run("count", args, FinishTracer{})
	if err != nil {
		t.Fatal(err)
	}
	if exit.Kind != compile.ExitDone || exit.Value != (history.ConstInt{Value: 10}) {
		t.Errorf("second run = %+v", exit)
	}
	loops, bridges, _ := jit.Compiler.Stats.Snapshot()
	if loops != 1 || bridges != 1 {
		t.Errorf("loops = %d, bridges = %d", loops, bridges)
	}

	if _, err := jit.Run("missing", args, nil); err == nil {
		t.Error("unknown greenkey should fail")
	}
}
