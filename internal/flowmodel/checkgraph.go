package flowmodel

import "fmt"

// CheckGraph 检查流图结构良好：
// 每个变量只定义一次、只在定义后使用，链接参数与目标块入参数目一致，
// 终止块没有出口，bool 分支恰有 true/false 两个出口。
func CheckGraph(g *FunctionGraph) error {
	if g.StartBlock == nil || g.ReturnBlock == nil {
		return fmt.Errorf("%s: missing start or return block", g.Name)
	}
	if len(g.ReturnBlock.InputArgs) != 1 {
		return fmt.Errorf("%s: return block must have exactly one input", g.Name)
	}
	definedIn := map[*Variable]*Block{}
	var err error

	g.IterBlocks(func(b *Block) bool {
		defined := map[*Variable]bool{}
		def := func(v *Variable) bool {
			if other, ok := definedIn[v]; ok && other != b {
				err = fmt.Errorf("%s: variable %s defined in %s and %s", g.Name, v, other, b)
				return false
			}
			if defined[v] {
				err = fmt.Errorf("%s: variable %s defined twice in %s", g.Name, v, b)
				return false
			}
			defined[v] = true
			definedIn[v] = b
			return true
		}
		use := func(a Hlvalue, what string) bool {
			if v, ok := a.(*Variable); ok && !defined[v] {
				err = fmt.Errorf("%s: %s uses undefined %s in %s", g.Name, what, v, b)
				return false
			}
			return true
		}

		for _, v := range b.InputArgs {
			if !def(v) {
				return false
			}
		}
		for _, op := range b.Operations {
			for _, a := range op.Args {
				if !use(a, op.OpName) {
					return false
				}
			}
			if op.Result != nil && !def(op.Result) {
				return false
			}
		}
		if (b.IsReturn || b.IsExcept) && len(b.Exits) > 0 {
			err = fmt.Errorf("%s: final %s has exits", g.Name, b)
			return false
		}
		if b.ExitSwitch != nil && b.ExitSwitch != CLastException {
			if !use(b.ExitSwitch, "exitswitch") {
				return false
			}
			if len(b.Exits) < 2 {
				err = fmt.Errorf("%s: switch %s needs at least two exits", g.Name, b)
				return false
			}
		}
		if b.CanRaise() && len(b.Operations) == 0 {
			err = fmt.Errorf("%s: raising %s has no operations", g.Name, b)
			return false
		}
		if !b.IsFinal() && b.ExitSwitch == nil && len(b.Exits) != 1 {
			err = fmt.Errorf("%s: %s without exitswitch must have one exit", g.Name, b)
			return false
		}
		for _, l := range b.Exits {
			if len(l.Args) != len(l.Target.InputArgs) {
				err = fmt.Errorf("%s: link %s -> %s passes %d args, target takes %d",
					g.Name, b, l.Target, len(l.Args), len(l.Target.InputArgs))
				return false
			}
			for _, a := range l.Args {
				if a == l.LastException || a == l.LastExcValue {
					continue
				}
				if !use(a, "link") {
					return false
				}
			}
		}
		return true
	})
	return err
}
