// sample.go - 内置示例程序，供命令行与测试试运行

package translator

import (
	"sort"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/jit/compile"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/program"
)

var samples = map[string]func() Entry{
	"count":  countSample,
	"double": doubleSample,
}

// Sample 按名字取示例入口
func Sample(name string) (Entry, bool) {
	f, ok := samples[name]
	if !ok {
		return Entry{}, false
	}
	return f(), true
}

// SampleNames 可用的示例名
func SampleNames() []string {
	out := make([]string, 0, len(samples))
	for n := range samples {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// countSample i = 0; while i < n: i += 1; return i
func countSample() Entry {
	fn := program.NewFunction("count", []string{"n"}, func(fn *program.Function, _ string) (*flowmodel.FunctionGraph, error) {
		b := flowmodel.NewBuilder(fn.Name, "n")
		head := b.NewBlock(2)
		body := b.NewBlock(2)
		exit := b.NewBlock(1)
		b.Jump(head, flowmodel.NewConstant(int64(0)), b.Arg(0))

		b.SetBlock(head)
		i, n := head.InputArgs[0], head.InputArgs[1]
		b.Branch(b.Op("lt", i, n), body, []flowmodel.Hlvalue{i, n}, exit, []flowmodel.Hlvalue{i})

		b.SetBlock(body)
		next := b.Op("add", body.InputArgs[0], flowmodel.NewConstant(int64(1)))
		b.Jump(head, next, body.InputArgs[1])

		b.SetBlock(exit)
		b.Return(exit.InputArgs[0])
		return b.Graph(), nil
	})
	return Entry{Function: fn, Args: []annotation.SomeValue{annotation.NewInteger(true)}}
}

func doubleSample() Entry {
	fn := program.NewFunction("double", []string{"x"}, func(fn *program.Function, _ string) (*flowmodel.FunctionGraph, error) {
		b := flowmodel.NewBuilder(fn.Name, "x")
		b.Return(b.Op("mul", b.Arg(0), flowmodel.NewConstant(int64(2))))
		return b.Graph(), nil
	})
	return Entry{Function: fn, Args: []annotation.SomeValue{annotation.NewInteger(false)}}
}

// CountingTrace count 示例循环体的 trace：
//
//	i1 = int_add(i0, 1)
//	guard_true(int_lt(i1, limit)) [i1]
//	jump(i1)
func CountingTrace(limit int64) (*history.History, []*history.Box, []history.Value) {
	i0 := history.NewBox(history.INT)
	h := history.NewHistory(i0)
	i1 := history.NewBox(history.INT)
	lt := history.NewBox(history.INT)
	h.Record(history.INT_ADD, []history.Value{i0, history.ConstInt{Value: 1}}, i1, nil)
	h.Record(history.INT_LT, []history.Value{i1, history.ConstInt{Value: limit}}, lt, nil)
	h.RecordGuard(history.GUARD_TRUE, []history.Value{lt}, nil, i1)
	return h, []*history.Box{i0}, []history.Value{i1}
}

// FinishTracer 把失败参数原样返回的桥
type FinishTracer struct{}

func (FinishTracer) TraceBridge(_ compile.ResumeDescr, values []history.Value) (*history.History, error) {
	b := history.NewBox(history.INT)
	h := history.NewHistory(b)
	h.Record(history.FINISH, []history.Value{b}, nil, compile.DoneWithThisFrameInt)
	return h, nil
}
