package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/config"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/logger"
	"github.com/tangzhangming/solatrans/internal/translator"
)

const (
	Version = "0.1.0"
)

// 全局语言参数
var globalLang string

func main() {
	args := preprocessArgs(os.Args[1:])
	InitLanguage(globalLang)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	command := args[0]
	switch command {
	case "translate":
		cmdTranslate(args[1:])
	case "jit":
		cmdJIT(args[1:])
	case "init":
		cmdInit(args[1:])
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, Msg().ErrUnknownCmd+"\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// preprocessArgs 提取全局 --lang 参数
func preprocessArgs(args []string) []string {
	var result []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--lang" || arg == "-lang":
			if i+1 < len(args) {
				globalLang = args[i+1]
				i++
				continue
			}
		case strings.HasPrefix(arg, "--lang="):
			globalLang = strings.TrimPrefix(arg, "--lang=")
			continue
		case strings.HasPrefix(arg, "-lang="):
			globalLang = strings.TrimPrefix(arg, "-lang=")
			continue
		}
		result = append(result, arg)
	}
	return result
}

func printUsage() {
	m := Msg()
	fmt.Printf(m.VersionTitle+"\n\n", Version)
	fmt.Println(m.HelpUsage)
	fmt.Println("  solatrans [--lang en|zh] <command> [options] [arguments]")
	fmt.Println()
	fmt.Println(m.HelpCommands)
	fmt.Printf("  translate <sample>  %s\n", m.CmdTranslate)
	fmt.Printf("  jit                 %s\n", m.CmdJIT)
	fmt.Printf("  init                %s\n", m.CmdInit)
	fmt.Printf("  version             %s\n", m.CmdVersion)
	fmt.Printf("  help                %s\n", m.CmdHelp)
	fmt.Println()
	fmt.Println(m.Samples)
	fmt.Printf("  %s\n", strings.Join(translator.SampleNames(), ", "))
	fmt.Println()
	fmt.Println(m.HelpExamples)
	fmt.Println("  solatrans translate -summary count")
	fmt.Println("  solatrans jit -limit 100 -runs 3 -report")
	fmt.Println("  solatrans --lang zh help")
}

// setup 加载配置并创建日志
func setup(path string) (*config.Config, *zap.Logger) {
	m := Msg()
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, m.ErrLoadConfig+"\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else if _, err := os.Stat(config.ConfigFileName); err == nil {
		loaded, err := config.Load(config.ConfigFileName)
		if err != nil {
			fmt.Fprintf(os.Stderr, m.ErrLoadConfig+"\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrLogger+"\n", err)
		os.Exit(1)
	}
	return cfg, log
}

// cmdTranslate 翻译内置示例
func cmdTranslate(args []string) {
	m := Msg()
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	configPath := fs.String("config", "", m.OptConfig)
	summary := fs.Bool("summary", false, m.OptSummary)
	report := fs.Bool("report", false, m.OptReport)

	fs.Usage = func() {
		fmt.Println(m.HelpUsage + " solatrans translate [options] <sample>")
		fmt.Println()
		fmt.Println(m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, m.ErrNoSample)
		os.Exit(1)
	}
	name := fs.Arg(0)
	entry, ok := translator.Sample(name)
	if !ok {
		fmt.Fprintf(os.Stderr, m.ErrUnknownSample+"\n", name)
		os.Exit(1)
	}

	cfg, log := setup(*configPath)
	defer log.Sync()

	ctx := translator.New(cfg, log, errs.NewReporter(os.Stderr))
	if err := ctx.Translate(entry); err != nil {
		fmt.Fprintf(os.Stderr, m.ErrTranslate+"\n", err)
		os.Exit(1)
	}
	fmt.Printf(m.SuccessTranslated+"\n", name, ctx.Reporter.Summary())

	if *summary {
		if err := ctx.Database.WriteYAML(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, m.ErrTranslate+"\n", err)
			os.Exit(1)
		}
	}
	if *report {
		printReport(ctx, nil)
	}
}

// cmdJIT 编译计数循环并反复运行
func cmdJIT(args []string) {
	m := Msg()
	fs := flag.NewFlagSet("jit", flag.ExitOnError)
	configPath := fs.String("config", "", m.OptConfig)
	limit := fs.Int64("limit", 10, m.OptLimit)
	runs := fs.Int("runs", 2, m.OptRuns)
	report := fs.Bool("report", false, m.OptReport)

	fs.Usage = func() {
		fmt.Println(m.HelpUsage + " solatrans jit [options]")
		fmt.Println()
		fmt.Println(m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, log := setup(*configPath)
	defer log.Sync()

	ctx := translator.New(cfg, log, errs.NewReporter(os.Stderr))
	jit := ctx.NewJIT()
	h, inputargs, jumpargs := translator.CountingTrace(*limit)
	if _, err := jit.Compiler.CompileLoop("count", h, 0, inputargs, jumpargs); err != nil {
		fmt.Fprintf(os.Stderr, m.ErrJIT+"\n", err)
		os.Exit(1)
	}
	for i := 1; i <= *runs; i++ {
		exit, err := jit.Run("count", []history.Value{history.ConstInt{}}, translator.FinishTracer{})
		if err != nil {
			fmt.Fprintf(os.Stderr, m.ErrJIT+"\n", err)
			os.Exit(1)
		}
		fmt.Printf(m.SuccessJITRun+"\n", i, exit.Descr.DescrString())
	}
	if *report {
		printReport(ctx, jit)
	}
}

func printReport(ctx *translator.TranslationContext, jit *translator.JIT) {
	data, err := ctx.Report(jit)
	if err != nil {
		fmt.Fprintf(os.Stderr, Msg().ErrTranslate+"\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

// cmdVersion 显示版本信息
func cmdVersion() {
	m := Msg()
	fmt.Printf(m.VersionTitle+"\n", Version)
	fmt.Println(m.VersionDesc)
}
