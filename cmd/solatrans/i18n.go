package main

import (
	"os"
	"runtime"
	"strings"
)

// Language 语言类型
type Language string

const (
	LangEnglish Language = "en"
	LangChinese Language = "zh"
)

// Messages 消息结构
type Messages struct {
	// 版本信息
	VersionTitle string
	VersionDesc  string

	// 帮助信息
	HelpUsage    string
	HelpCommands string
	HelpOptions  string
	HelpExamples string

	// 命令描述
	CmdTranslate string
	CmdJIT       string
	CmdInit      string
	CmdVersion   string
	CmdHelp      string

	// 选项
	OptConfig  string
	OptSummary string
	OptReport  string
	OptLimit   string
	OptRuns    string
	OptLang    string

	// 错误信息
	ErrNoSample      string
	ErrUnknownSample string
	ErrUnknownCmd    string
	ErrLoadConfig    string
	ErrLogger        string
	ErrTranslate     string
	ErrJIT           string
	ErrConfigExists  string
	ErrCreateConfig  string
	ErrGetWorkDir    string

	// 成功信息
	SuccessTranslated string
	SuccessJITRun     string
	InitCreating      string
	InitSuccess       string

	Samples string
}

// 英文消息
var messagesEN = Messages{
	VersionTitle: "solatrans v%s",
	VersionDesc:  "Whole-program translator: annotation, rtyping, C database and a tracing JIT back end",

	HelpUsage:    "Usage:",
	HelpCommands: "Commands:",
	HelpOptions:  "Options:",
	HelpExamples: "Examples:",

	CmdTranslate: "Translate a built-in sample program",
	CmdJIT:       "Compile and run the counting loop on the in-memory JIT back end",
	CmdInit:      "Write a default solatrans.toml in the current directory",
	CmdVersion:   "Show version information",
	CmdHelp:      "Show this help message",

	OptConfig:  "Configuration file",
	OptSummary: "Print the database summary as YAML",
	OptReport:  "Print the statistics report as JSON",
	OptLimit:   "Loop bound of the counting loop",
	OptRuns:    "Number of runs",
	OptLang:    "Set language (en/zh)",

	ErrNoSample:      "Error: no sample specified",
	ErrUnknownSample: "Unknown sample: %s",
	ErrUnknownCmd:    "Unknown command: %s",
	ErrLoadConfig:    "Error loading configuration: %v",
	ErrLogger:        "Error creating logger: %v",
	ErrTranslate:     "Translation failed: %v",
	ErrJIT:           "JIT run failed: %v",
	ErrConfigExists:  "Error: %s already exists",
	ErrCreateConfig:  "Error creating configuration: %v",
	ErrGetWorkDir:    "Error getting working directory: %v",

	SuccessTranslated: "✓ Translated %s (%s)",
	SuccessJITRun:     "run %d: %s",
	InitCreating:      "Creating %s",
	InitSuccess:       "✓ Configuration written",

	Samples: "Samples:",
}

// 中文消息
var messagesZH = Messages{
	VersionTitle: "solatrans v%s",
	VersionDesc:  "整程序翻译器：注解、类型化、C 数据库与追踪 JIT 后端",

	HelpUsage:    "用法:",
	HelpCommands: "命令:",
	HelpOptions:  "选项:",
	HelpExamples: "示例:",

	CmdTranslate: "翻译内置示例程序",
	CmdJIT:       "在内存 JIT 后端上编译并运行计数循环",
	CmdInit:      "在当前目录生成默认的 solatrans.toml",
	CmdVersion:   "显示版本信息",
	CmdHelp:      "显示帮助信息",

	OptConfig:  "配置文件",
	OptSummary: "以 YAML 输出数据库摘要",
	OptReport:  "以 JSON 输出统计报告",
	OptLimit:   "计数循环的上界",
	OptRuns:    "运行次数",
	OptLang:    "设置语言 (en/zh)",

	ErrNoSample:      "错误: 未指定示例",
	ErrUnknownSample: "未知示例: %s",
	ErrUnknownCmd:    "未知命令: %s",
	ErrLoadConfig:    "加载配置错误: %v",
	ErrLogger:        "创建日志错误: %v",
	ErrTranslate:     "翻译失败: %v",
	ErrJIT:           "JIT 运行失败: %v",
	ErrConfigExists:  "错误: %s 已存在",
	ErrCreateConfig:  "创建配置错误: %v",
	ErrGetWorkDir:    "获取工作目录错误: %v",

	SuccessTranslated: "✓ 已翻译 %s (%s)",
	SuccessJITRun:     "第 %d 次运行: %s",
	InitCreating:      "正在创建 %s",
	InitSuccess:       "✓ 配置已写入",

	Samples: "示例:",
}

// 当前消息
var msg = messagesEN

// 当前语言
var currentLang = LangEnglish

// InitLanguage 初始化语言设置
// 优先级: 命令行参数 > 环境变量 SOLATRANS_LANG > 操作系统语言 > 默认英文
func InitLanguage(langOverride string) {
	if langOverride != "" {
		setLanguage(langOverride)
		return
	}
	if envLang := os.Getenv("SOLATRANS_LANG"); envLang != "" {
		setLanguage(envLang)
		return
	}
	if detectChineseOS() {
		setLanguage("zh")
		return
	}
	setLanguage("en")
}

func setLanguage(lang string) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch lang {
	case "zh", "zh-cn", "zh-tw", "zh-hk", "chinese":
		currentLang = LangChinese
		msg = messagesZH
	default:
		currentLang = LangEnglish
		msg = messagesEN
	}
}

// detectChineseOS 检测操作系统是否为中文环境
func detectChineseOS() bool {
	if runtime.GOOS == "windows" {
		if detectWindowsChinese() {
			return true
		}
		if strings.HasPrefix(strings.ToLower(getWindowsLocale()), "zh") {
			return true
		}
	}
	for _, v := range []string{"LANG", "LANGUAGE", "LC_ALL", "LC_MESSAGES"} {
		if val := strings.ToLower(os.Getenv(v)); strings.Contains(val, "zh") || strings.Contains(val, "chinese") {
			return true
		}
	}
	return false
}

// GetLanguage 获取当前语言
func GetLanguage() Language {
	return currentLang
}

// Msg 获取当前消息对象
func Msg() *Messages {
	return &msg
}
