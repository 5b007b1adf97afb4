package btctl

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"quant/logging"
)

// options 命令行参数
type options struct {
	configPath string
	outPath    string
	chartPath  string
	dbPath     string
	cacheDir   string
	limit      int
}

func Run(args []string) int {
	fs := flag.NewFlagSet("btctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		backtestMode  bool
		portfolioMode bool
		optimizeMode  bool
		historyMode   bool
		logLevel      string
		opt           options
	)

	fs.BoolVar(&backtestMode, "backtest", false, "按 backtest.yaml 运行单策略回测并退出")
	fs.BoolVar(&portfolioMode, "portfolio", false, "按 backtest.yaml 的 portfolio 段运行多策略组合回测")
	fs.BoolVar(&optimizeMode, "optimize", false, "按 backtest.yaml 的 optimize 段做参数寻优")
	fs.BoolVar(&historyMode, "history", false, "列出 SQLite 中最近的回测记录（需要 -db）")

	fs.StringVar(&opt.configPath, "bt-config", "backtest.yaml", "回测配置文件路径(YAML格式)")
	fs.StringVar(&opt.outPath, "bt-out", "", "输出JSON文件路径(默认stdout)")
	fs.StringVar(&opt.chartPath, "chart", "", "输出权益曲线SVG路径（可选）")
	fs.StringVar(&opt.dbPath, "db", "", "SQLite 结果库路径（设置后保存每次回测结果）")
	fs.StringVar(&opt.cacheDir, "cache-dir", "", "Parquet K线缓存目录（可选）")
	fs.IntVar(&opt.limit, "limit", 20, "history 输出条数")
	fs.StringVar(&logLevel, "log-level", "warn", "日志级别 debug/info/warn/error")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	modes := 0
	for _, m := range []bool{backtestMode, portfolioMode, optimizeMode, historyMode} {
		if m {
			modes++
		}
	}
	if modes > 1 {
		fmt.Fprintln(os.Stderr, "[ERROR] -backtest/-portfolio/-optimize/-history 只能选一个")
		return 2
	}

	logger := logging.Must(logLevel, "console")
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case backtestMode:
		err = runBacktest(ctx, opt, logger)
	case portfolioMode:
		err = runPortfolio(ctx, opt, logger)
	case optimizeMode:
		err = runOptimize(ctx, opt, logger)
	case historyMode:
		err = runHistory(ctx, opt, os.Stdout)
	default:
		usage()
		return 2
	}
	if err != nil {
		logger.Error("btctl failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  quant -backtest  -bt-config backtest.yaml [-bt-out runtime/report.json] [-chart runtime/equity.svg] [-db results.db]")
	fmt.Fprintln(os.Stderr, "  quant -portfolio -bt-config backtest.yaml [-bt-out ...]")
	fmt.Fprintln(os.Stderr, "  quant -optimize  -bt-config backtest.yaml [-bt-out ...]")
	fmt.Fprintln(os.Stderr, "  quant -history   -db results.db [-limit 20]")
	fmt.Fprintln(os.Stderr, "  quant [-config config.yaml]            # 启动 HTTP 服务")
}
