// Package errors 提供翻译器各阶段的错误类型与错误码
package errors

// ============================================================================
// 错误级别
// ============================================================================

// Level 错误级别
type Level int

const (
	LevelError   Level = iota // 错误
	LevelWarning              // 警告
	LevelNote                 // 提示
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNote:
		return "note"
	default:
		return "unknown"
	}
}

// ============================================================================
// 注解器错误码 (A 开头)
// ============================================================================

const (
	// A0001-A0099: 操作无法注解
	A0001 = "A0001" // 操作在受限子集中没有合法的传递函数
	A0002 = "A0002" // 不支持 hash(x)
	A0003 = "A0003" // 不支持在非通用对象上 delattr
	A0004 = "A0004" // 不支持字符串 format
	A0005 = "A0005" // getattr 的属性名不是常量
	A0006 = "A0006" // 调用了 classmethod
	A0007 = "A0007" // 属性不存在或被 _attrs_ 禁止
	A0008 = "A0008" // 特化指令无效

	// A0100-A0199: 签名与调用
	A0100 = "A0100" // 签名不匹配
	A0101 = "A0101" // 异构 __init__ 上使用可变关键字参数名
	A0102 = "A0102" // enforceargs 与 signature 同时使用
	A0103 = "A0103" // 参数注解违反 enforceargs/signature 声明

	// A0200-A0299: 格
	A0200 = "A0200" // union 失败（无公共上界）
	A0201 = "A0201" // 存在阻塞的块
	A0202 = "A0202" // 常量缓存/冻结属性访问失败
	A0203 = "A0203" // 列表定义已冻结，不能再改变
	A0204 = "A0204" // 列表不允许此种改变（resize / mutate）
)

// ============================================================================
// 类型化器错误码 (T 开头)
// ============================================================================

const (
	T0001 = "T0001" // 没有可用的表示
	T0002 = "T0002" // 低层类型不一致
	T0003 = "T0003" // 缺少低层操作
	T0004 = "T0004" // 终结器不是轻量的
	T0005 = "T0005" // 容器不变式被破坏
)

// ============================================================================
// JIT 错误码 (J 开头)
// ============================================================================

const (
	J0001 = "J0001" // 循环无法闭合
	J0002 = "J0002" // 没有可溢出的变量
	J0003 = "J0003" // 对不可变字段执行 setfield
	J0004 = "J0004" // 后端编译失败
)

// ============================================================================
// 原始内存错误码 (R 开头)
// ============================================================================

const (
	R0001 = "R0001" // 原始内存分配失败
	R0002 = "R0002" // 原始内存释放失败
	R0003 = "R0003" // 原始缓冲区重复释放
)

// codeMessages 错误码默认描述
var codeMessages = map[string]string{
	A0001: "operation not supported in the restricted dialect",
	A0002: "hash() is not supported",
	A0003: "delattr() on a non-generic object",
	A0004: "string formatting is not supported",
	A0005: "getattr() with a non-constant attribute name",
	A0006: "calling a classmethod is not supported",
	A0007: "no such attribute",
	A0008: "invalid specialization directive",
	A0100: "signature mismatch",
	A0101: "variable keyword arguments on heterogeneous __init__",
	A0102: "enforceargs and signature cannot both be used",
	A0103: "argument violates the declared signature",
	A0200: "cannot compute a union",
	A0201: "annotation is blocked",
	A0202: "prebuilt constant access failed",
	A0203: "too late to change the list or dict definition",
	A0204: "list change not allowed",
	T0001: "no representation for annotation",
	T0002: "inconsistent low-level type",
	T0003: "missing low-level operation",
	T0004: "finalizer is not light",
	T0005: "container invariant violated",
	J0001: "invalid loop",
	J0002: "no variable to spill",
	J0003: "setfield on an immutable field",
	J0004: "backend compilation failed",
	R0001: "raw allocation failed",
	R0002: "raw release failed",
	R0003: "raw buffer released twice",
}

// CodeMessage 返回错误码的默认描述
func CodeMessage(code string) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return "unknown error"
}
