package lltype

import "sort"

// ============================================================================
// 低层操作表
// ============================================================================

// LLOp 低层操作的静态属性
type LLOp struct {
	Name        string
	CanFold     bool     // 参数为常量时可在编译期求值
	SideEffects bool     // 有副作用
	CanRaise    []string // 可能抛出的异常类名
	Pure        bool     // 结果只依赖参数，可以缓存与外提
	CanMalloc   bool     // 可能分配 gc 内存
}

// CanRaiseAny 是否可能抛出异常
func (op *LLOp) CanRaiseAny() bool {
	return len(op.CanRaise) > 0
}

var llops = map[string]*LLOp{}

func defop(name string, op LLOp) {
	op.Name = name
	if op.CanFold {
		op.Pure = true
	}
	llops[name] = &op
}

func init() {
	folds := LLOp{CanFold: true}
	ovf := LLOp{CanFold: true, CanRaise: []string{"OverflowError"}}
	zdiv := LLOp{CanFold: true, CanRaise: []string{"ZeroDivisionError"}}

	for _, name := range []string{
		"int_add", "int_sub", "int_mul", "int_and", "int_or", "int_xor",
		"int_lshift", "int_rshift", "int_neg", "int_abs", "int_invert",
		"int_lt", "int_le", "int_eq", "int_ne", "int_gt", "int_ge", "int_is_true",
		"uint_add", "uint_sub", "uint_mul", "uint_lt", "uint_le", "uint_eq", "uint_ne",
		"uint_gt", "uint_ge", "uint_rshift", "uint_floordiv", "uint_mod",
		"float_add", "float_sub", "float_mul", "float_truediv", "float_neg", "float_abs",
		"float_lt", "float_le", "float_eq", "float_ne", "float_gt", "float_ge", "float_is_true",
		"char_lt", "char_le", "char_eq", "char_ne", "char_gt", "char_ge",
		"unichar_eq", "unichar_ne", "unichar_lt", "unichar_le", "unichar_gt", "unichar_ge",
		"cast_int_to_float", "cast_float_to_int", "cast_char_to_int", "cast_int_to_char",
		"cast_unichar_to_int", "cast_int_to_unichar", "cast_bool_to_int", "cast_bool_to_float",
		"cast_int_to_uint", "cast_uint_to_int",
		"same_as", "bool_not", "int_floordiv", "int_mod",
	} {
		defop(name, folds)
	}
	for _, prefix := range []string{"uint_", "llong_", "ullong_"} {
		for _, name := range []string{
			"add", "sub", "mul", "floordiv", "mod", "and", "or", "xor", "lshift", "rshift",
			"neg", "abs", "invert", "is_true", "lt", "le", "eq", "ne", "gt", "ge",
		} {
			if _, ok := llops[prefix+name]; !ok {
				defop(prefix+name, folds)
			}
		}
	}
	for _, name := range []string{
		"int_between", "int_is_zero", "cast_primitive", "cast_int_to_longlong", "cast_longlong_to_float",
		"cast_uint_to_float", "cast_float_to_uint", "cast_float_to_longlong",
	} {
		defop(name, folds)
	}
	for _, name := range []string{"int_add_ovf", "int_sub_ovf", "int_mul_ovf", "int_neg_ovf", "int_add_nonneg_ovf", "int_lshift_ovf",
		"int_abs_ovf", "int_floordiv_ovf", "int_mod_ovf"} {
		defop(name, ovf)
	}
	for _, name := range []string{"int_floordiv_zer", "int_mod_zer", "int_floordiv_ovf_zer", "int_mod_ovf_zer"} {
		defop(name, zdiv)
	}

	// 内存
	defop("getfield", LLOp{})
	defop("getfield_pure", LLOp{Pure: true})
	defop("getsubstruct", LLOp{Pure: true})
	defop("getarrayitem", LLOp{})
	defop("getarraysize", LLOp{})
	defop("getinteriorfield", LLOp{})
	defop("getinteriorarraysize", LLOp{})
	defop("setfield", LLOp{SideEffects: true})
	defop("setarrayitem", LLOp{SideEffects: true})
	defop("setinteriorfield", LLOp{SideEffects: true})
	defop("malloc", LLOp{SideEffects: true, CanMalloc: true, CanRaise: []string{"MemoryError"}})
	defop("malloc_varsize", LLOp{SideEffects: true, CanMalloc: true, CanRaise: []string{"MemoryError"}})
	defop("raw_malloc", LLOp{SideEffects: true, CanRaise: []string{"MemoryError"}})
	defop("raw_free", LLOp{SideEffects: true})
	defop("gc_writebarrier", LLOp{SideEffects: true})

	// 指针
	defop("cast_pointer", LLOp{CanFold: true})
	defop("cast_ptr_to_adr", LLOp{CanFold: true})
	defop("ptr_eq", LLOp{CanFold: true})
	defop("ptr_ne", LLOp{CanFold: true})
	defop("ptr_iszero", LLOp{CanFold: true})
	defop("ptr_nonzero", LLOp{CanFold: true})
	defop("weakref_create", LLOp{SideEffects: true, CanMalloc: true})
	defop("weakref_deref", LLOp{})

	// 调用
	defop("direct_call", LLOp{SideEffects: true, CanMalloc: true, CanRaise: []string{"Exception"}})
	defop("indirect_call", LLOp{SideEffects: true, CanMalloc: true, CanRaise: []string{"Exception"}})

	// 杂项
	defop("debug_assert", LLOp{SideEffects: true})
	defop("keepalive", LLOp{SideEffects: true})
	defop("gc_push_roots", LLOp{SideEffects: true})
	defop("gc_pop_roots", LLOp{SideEffects: true})
	defop("gc_stack_bottom", LLOp{SideEffects: true})
}

// LookupLLOp 查询低层操作
func LookupLLOp(name string) (*LLOp, bool) {
	op, ok := llops[name]
	return op, ok
}

// LLOpNames 所有低层操作名（排序）
func LLOpNames() []string {
	names := make([]string, 0, len(llops))
	for n := range llops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
