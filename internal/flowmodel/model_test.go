package flowmodel

import "testing"

// TestBuilderStraightLine 测试直线代码
func TestBuilderStraightLine(t *testing.T) {
	b := NewBuilder("f", "x")
	y := b.Op("add", b.Arg(0), NewConstant(int64(1)))
	b.Return(y)
	g := b.Graph()

	if err := CheckGraph(g); err != nil {
		t.Fatalf("CheckGraph failed: %v", err)
	}
	if len(g.GetArgs()) != 1 {
		t.Errorf("expected 1 arg, got %d", len(g.GetArgs()))
	}
	blocks := g.Blocks()
	if len(blocks) != 2 {
		t.Errorf("expected start + return block, got %d", len(blocks))
	}
}

// TestBuilderBranch 测试分支与汇合
func TestBuilderBranch(t *testing.T) {
	b := NewBuilder("g", "x")
	cond := b.Op("is_true", b.Arg(0))
	then := b.NewBlock(1)
	els := b.NewBlock(0)
	b.Branch(cond, then, []Hlvalue{b.Arg(0)}, els, nil)

	b.SetBlock(then)
	b.Return(then.InputArgs[0])
	b.SetBlock(els)
	b.Return(NewConstant(int64(0)))

	if err := CheckGraph(b.Graph()); err != nil {
		t.Fatalf("CheckGraph failed: %v", err)
	}
	// 两条分支出口加上两条到返回块的链接
	count := 0
	b.Graph().IterLinks(func(*Link) { count++ })
	if count != 4 {
		t.Errorf("expected 4 links, got %d", count)
	}
}

// TestCheckGraphErrors 测试非法图
func TestCheckGraphErrors(t *testing.T) {
	// 使用未定义的变量
	b := NewBuilder("bad", "x")
	stray := NewVariable("stray")
	b.Return(stray)
	if err := CheckGraph(b.Graph()); err == nil {
		t.Error("use of undefined variable should fail")
	}

	// 链接参数数目不符
	b = NewBuilder("bad2", "x")
	target := b.NewBlock(2)
	b.Jump(target, b.Arg(0))
	b.SetBlock(target)
	b.Return(target.InputArgs[0])
	if err := CheckGraph(b.Graph()); err == nil {
		t.Error("arity mismatch should fail")
	}
}

// TestCatch 测试异常出口
func TestCatch(t *testing.T) {
	b := NewBuilder("h", "x")
	r := b.Op("simple_call", b.Arg(0))
	normal := b.NewBlock(1)
	handler := b.NewBlock(2)
	b.Catch(normal, []Hlvalue{r}, Handler{Class: "ValueError", Target: handler})
	b.SetBlock(normal)
	b.Return(normal.InputArgs[0])
	b.SetBlock(handler)
	b.Return(NewConstant(int64(-1)))

	g := b.Graph()
	if err := CheckGraph(g); err != nil {
		t.Fatalf("CheckGraph failed: %v", err)
	}
	if !g.StartBlock.CanRaise() || g.StartBlock.RaisingOp() == nil {
		t.Error("start block should be raising")
	}
}
