// eci.go - 外部编译信息
//
// 翻译出的 C 代码需要的头文件、包含目录、额外源文件、库与链接参数。
// 各组件各自给出一份，容器数据库在输出前把它们合并成一份。
package rffi

import "strings"

// ExternalCompilationInfo 外部编译信息
type ExternalCompilationInfo struct {
	PreIncludeBits  []string `yaml:"pre_include_bits,omitempty"`
	Includes        []string `yaml:"includes,omitempty"`
	IncludeDirs     []string `yaml:"include_dirs,omitempty"`
	PostIncludeBits []string `yaml:"post_include_bits,omitempty"`
	SeparateSources []string `yaml:"separate_sources,omitempty"`
	Libraries       []string `yaml:"libraries,omitempty"`
	LibraryDirs     []string `yaml:"library_dirs,omitempty"`
	LinkFlags       []string `yaml:"link_flags,omitempty"`
	CompileFlags    []string `yaml:"compile_flags,omitempty"`
}

// Merge 合并多份编译信息：保持首次出现的顺序并去重
func (e *ExternalCompilationInfo) Merge(others ...*ExternalCompilationInfo) *ExternalCompilationInfo {
	all := append([]*ExternalCompilationInfo{e}, others...)
	out := &ExternalCompilationInfo{}
	pick := func(get func(*ExternalCompilationInfo) []string) []string {
		var merged []string
		seen := make(map[string]bool)
		for _, x := range all {
			if x == nil {
				continue
			}
			for _, s := range get(x) {
				if !seen[s] {
					seen[s] = true
					merged = append(merged, s)
				}
			}
		}
		return merged
	}
	out.PreIncludeBits = pick(func(x *ExternalCompilationInfo) []string { return x.PreIncludeBits })
	out.Includes = pick(func(x *ExternalCompilationInfo) []string { return x.Includes })
	out.IncludeDirs = pick(func(x *ExternalCompilationInfo) []string { return x.IncludeDirs })
	out.PostIncludeBits = pick(func(x *ExternalCompilationInfo) []string { return x.PostIncludeBits })
	out.SeparateSources = pick(func(x *ExternalCompilationInfo) []string { return x.SeparateSources })
	out.Libraries = pick(func(x *ExternalCompilationInfo) []string { return x.Libraries })
	out.LibraryDirs = pick(func(x *ExternalCompilationInfo) []string { return x.LibraryDirs })
	out.LinkFlags = pick(func(x *ExternalCompilationInfo) []string { return x.LinkFlags })
	out.CompileFlags = pick(func(x *ExternalCompilationInfo) []string { return x.CompileFlags })
	return out
}

// IsEmpty 没有任何内容
func (e *ExternalCompilationInfo) IsEmpty() bool {
	return e == nil || len(e.PreIncludeBits)+len(e.Includes)+len(e.IncludeDirs)+len(e.PostIncludeBits)+
		len(e.SeparateSources)+len(e.Libraries)+len(e.LibraryDirs)+len(e.LinkFlags)+len(e.CompileFlags) == 0
}

// Header 生成 #include 与前后置代码片段
func (e *ExternalCompilationInfo) Header() string {
	var sb strings.Builder
	for _, bit := range e.PreIncludeBits {
		sb.WriteString(bit)
		sb.WriteByte('\n')
	}
	for _, inc := range e.Includes {
		if strings.HasPrefix(inc, "<") {
			sb.WriteString("#include " + inc + "\n")
		} else {
			sb.WriteString("#include \"" + inc + "\"\n")
		}
	}
	for _, bit := range e.PostIncludeBits {
		sb.WriteString(bit)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// LinkArgs 链接器参数：库目录、库、额外参数
func (e *ExternalCompilationInfo) LinkArgs() []string {
	var args []string
	for _, d := range e.LibraryDirs {
		args = append(args, "-L"+d)
	}
	for _, l := range e.Libraries {
		args = append(args, "-l"+l)
	}
	return append(args, e.LinkFlags...)
}
