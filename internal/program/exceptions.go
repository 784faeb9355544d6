package program

// ============================================================================
// 内建异常层次
// ============================================================================

// Exceptions 内建异常类，组成以 BaseException 为根的单棵树
type Exceptions struct {
	BaseException       *Class
	Exception           *Class
	StopIteration       *Class
	StandardError       *Class
	ArithmeticError     *Class
	OverflowError       *Class
	ZeroDivisionError   *Class
	LookupError         *Class
	KeyError            *Class
	IndexError          *Class
	ValueError          *Class
	TypeError           *Class
	AttributeError      *Class
	AssertionError      *Class
	MemoryError         *Class
	RuntimeError        *Class
	NotImplementedError *Class
	KeyboardInterrupt   *Class
	SystemExit          *Class

	byName map[string]*Class
}

// NewExceptions 构建异常树
func NewExceptions() *Exceptions {
	e := &Exceptions{byName: make(map[string]*Class)}
	mk := func(name string, base *Class) *Class {
		var c *Class
		if base == nil {
			c = NewClass(name)
		} else {
			c = NewClass(name, base)
		}
		c.Builtin = true
		e.byName[name] = c
		return c
	}
	e.BaseException = mk("BaseException", nil)
	e.Exception = mk("Exception", e.BaseException)
	e.KeyboardInterrupt = mk("KeyboardInterrupt", e.BaseException)
	e.SystemExit = mk("SystemExit", e.BaseException)
	e.StopIteration = mk("StopIteration", e.Exception)
	e.StandardError = mk("StandardError", e.Exception)
	e.ArithmeticError = mk("ArithmeticError", e.StandardError)
	e.OverflowError = mk("OverflowError", e.ArithmeticError)
	e.ZeroDivisionError = mk("ZeroDivisionError", e.ArithmeticError)
	e.LookupError = mk("LookupError", e.StandardError)
	e.KeyError = mk("KeyError", e.LookupError)
	e.IndexError = mk("IndexError", e.LookupError)
	e.ValueError = mk("ValueError", e.StandardError)
	e.TypeError = mk("TypeError", e.StandardError)
	e.AttributeError = mk("AttributeError", e.StandardError)
	e.AssertionError = mk("AssertionError", e.StandardError)
	e.MemoryError = mk("MemoryError", e.StandardError)
	e.RuntimeError = mk("RuntimeError", e.StandardError)
	e.NotImplementedError = mk("NotImplementedError", e.RuntimeError)
	return e
}

// ByName 按名字查找异常类
func (e *Exceptions) ByName(name string) (*Class, bool) {
	c, ok := e.byName[name]
	return c, ok
}

// All 所有异常类
func (e *Exceptions) All() []*Class {
	out := make([]*Class, 0, len(e.byName))
	for _, c := range e.byName {
		out = append(out, c)
	}
	return out
}
