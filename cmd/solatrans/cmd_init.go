package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tangzhangming/solatrans/internal/config"
)

// cmdInit 在当前目录生成默认配置
func cmdInit(args []string) {
	m := Msg()
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	gc := fs.String("gc", "", "gc policy (none/ref/framework)")

	fs.Usage = func() {
		fmt.Println(m.HelpUsage + " solatrans init [options]")
		fmt.Println()
		fmt.Println(m.CmdInit)
		fmt.Println()
		fmt.Println(m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrGetWorkDir+"\n", err)
		os.Exit(1)
	}
	path := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, m.ErrConfigExists+"\n", config.ConfigFileName)
		os.Exit(1)
	}

	cfg := config.Default()
	if *gc != "" {
		cfg.Translation.GC = *gc
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, m.ErrCreateConfig+"\n", err)
		os.Exit(1)
	}
	fmt.Printf(m.InitCreating+"\n", config.ConfigFileName)
	if err := cfg.Save(path); err != nil {
		fmt.Fprintf(os.Stderr, m.ErrCreateConfig+"\n", err)
		os.Exit(1)
	}
	fmt.Println(m.InitSuccess)
}
