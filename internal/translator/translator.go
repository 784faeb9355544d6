// Package translator 驱动整个翻译流程：注解 → 类型化 → 构建 C 数据库
package translator

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/annotator"
	"github.com/tangzhangming/solatrans/internal/cmodel"
	"github.com/tangzhangming/solatrans/internal/config"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/logger"
	"github.com/tangzhangming/solatrans/internal/program"
	"github.com/tangzhangming/solatrans/internal/rtyper"
)

// Entry 翻译入口：宿主函数与入参注解
type Entry struct {
	Function *program.Function
	Args     []annotation.SomeValue
}

// ============================================================================
// 翻译上下文
// ============================================================================

// TranslationContext 一次翻译的全部状态
type TranslationContext struct {
	Config    *config.Config
	Reporter  *errs.Reporter
	Annotator *annotator.Annotator
	RTyper    *rtyper.RTyper
	Database  *cmodel.Database

	log     *zap.Logger
	entries []*flowmodel.FunctionGraph
	stats   *Stats
}

// New 创建翻译上下文；cfg 为 nil 时使用默认配置，reporter 为 nil 时只收集不输出
func New(cfg *config.Config, log *zap.Logger, reporter *errs.Reporter) *TranslationContext {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	if reporter == nil {
		reporter = errs.NewReporter(nil)
	}
	return &TranslationContext{
		Config:    cfg,
		Reporter:  reporter,
		Annotator: annotator.New(nil, cfg.Annotator, log),
		log:       logger.Named(log, "translator"),
		stats:     &Stats{GCPolicy: cfg.Translation.GC},
	}
}

// Stats 翻译统计
func (t *TranslationContext) Stats() *Stats { return t.stats }

// Entries 已登记的入口流图
func (t *TranslationContext) Entries() []*flowmodel.FunctionGraph {
	return append([]*flowmodel.FunctionGraph(nil), t.entries...)
}

// AddEntries 登记入口；每个失败的入口都会报告，返回合并后的错误
func (t *TranslationContext) AddEntries(entries ...Entry) error {
	var err error
	for _, e := range entries {
		g, addErr := t.Annotator.AddEntry(e.Function, e.Args)
		if addErr != nil {
			t.Reporter.ReportError(addErr)
			err = multierr.Append(err, errors.Wrapf(addErr, "entry %s", e.Function.Name))
			continue
		}
		t.entries = append(t.entries, g)
	}
	t.stats.Entries = len(t.entries)
	return err
}

// ============================================================================
// 各阶段
// ============================================================================

// phase 计时并报告阶段错误
func (t *TranslationContext) phase(name string, fn func() error) error {
	start := time.Now()
	t.log.Info("phase started", zap.String("phase", name))
	err := fn()
	elapsed := time.Since(start)
	t.stats.addPhase(name, elapsed)
	if err != nil {
		t.Reporter.ReportError(err)
		t.log.Error("phase failed", zap.String("phase", name), zap.Error(err))
		return errors.Wrap(err, name)
	}
	t.log.Info("phase finished", zap.String("phase", name), zap.Duration("elapsed", elapsed))
	return nil
}

// Annotate 把所有入口分析到不动点
func (t *TranslationContext) Annotate() error {
	return t.phase("annotate", func() error {
		if len(t.entries) == 0 {
			return errs.NewAnnotatorError(errs.A0001, "no entry point to annotate")
		}
		if err := t.Annotator.Complete(); err != nil {
			return err
		}
		t.stats.collectGraphs(t.Annotator)
		return nil
	})
}

// RType 为注解过的流图选择表示并改写为低层操作
func (t *TranslationContext) RType() error {
	return t.phase("rtype", func() error {
		rt, err := rtyper.New(t.Annotator, t.Config.Translation, nil, t.log)
		if err != nil {
			return err
		}
		if err := rt.Specialize(); err != nil {
			return err
		}
		t.RTyper = rt
		t.stats.Helpers = len(rt.Helpers())
		return nil
	})
}

// BuildDatabase 从入口函数指针出发收集所有类型、预构建对象与函数
func (t *TranslationContext) BuildDatabase() error {
	return t.phase("database", func() error {
		if t.RTyper == nil {
			return errs.NewTyperError(errs.T0001, "database requested before rtyping")
		}
		db := cmodel.NewDatabase(t.RTyper.GCPolicy(), t.RTyper.RTTI(), t.log)
		for _, g := range t.entries {
			p, err := t.RTyper.GetCallable(g)
			if err != nil {
				return err
			}
			db.AddFunction(p)
		}
		for _, h := range t.RTyper.Helpers() {
			db.AddFunction(h)
		}
		if err := db.Complete(); err != nil {
			return err
		}
		t.Database = db
		t.stats.collectDatabase(db)
		return nil
	})
}

// Translate 登记入口并依次运行全部阶段
func (t *TranslationContext) Translate(entries ...Entry) error {
	if err := t.AddEntries(entries...); err != nil {
		return err
	}
	for _, step := range []func() error{t.Annotate, t.RType, t.BuildDatabase} {
		if err := step(); err != nil {
			return err
		}
	}
	t.log.Info("translation complete", zap.String("summary", t.Reporter.Summary()))
	return nil
}
