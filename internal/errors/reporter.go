package errors

import (
	"fmt"
	"io"
	"sync"
)

// ============================================================================
// 诊断报告器
// ============================================================================

// Reporter 收集翻译过程中的警告与错误
type Reporter struct {
	mu        sync.Mutex
	formatter *Formatter
	out       io.Writer // 为 nil 时只收集不输出
	errors    []*Diagnostic
	warnings  []*Diagnostic
}

// NewReporter 创建报告器
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{formatter: NewFormatter(), out: out}
}

// SetFormatter 设置格式化器
func (r *Reporter) SetFormatter(f *Formatter) {
	r.formatter = f
}

// ReportError 报告错误
func (r *Reporter) ReportError(err error) {
	d := FromError(err)
	r.mu.Lock()
	r.errors = append(r.errors, d)
	r.mu.Unlock()
	r.emit(d)
}

// Warn 报告警告
func (r *Reporter) Warn(pos Position, format string, args ...interface{}) {
	d := &Diagnostic{Level: LevelWarning, Message: fmt.Sprintf(format, args...), Pos: pos}
	r.mu.Lock()
	r.warnings = append(r.warnings, d)
	r.mu.Unlock()
	r.emit(d)
}

func (r *Reporter) emit(d *Diagnostic) {
	if r.out == nil {
		return
	}
	fmt.Fprint(r.out, r.formatter.Format(d))
}

// Errors 已报告的错误
func (r *Reporter) Errors() []*Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Diagnostic(nil), r.errors...)
}

// Warnings 已报告的警告
func (r *Reporter) Warnings() []*Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Diagnostic(nil), r.warnings...)
}

// HasErrors 是否有错误
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors) > 0
}

// Summary 汇总
func (r *Reporter) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%d error(s), %d warning(s)", len(r.errors), len(r.warnings))
}
