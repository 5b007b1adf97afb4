package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"quant/backtest"
	"quant/trading"
)

// ErrNoData 数据源没有返回任何K线
var ErrNoData = errors.New("no bars returned")

// BarSource 按代码、周期和日期区间提供按时间排序的K线
type BarSource interface {
	Fetch(ctx context.Context, symbol, period string, start, end time.Time) ([]backtest.Bar, error)
}

// secID 转换为东方财富 secid: sh600000 / 600000 -> 1.600000, sz000001 / 000001 -> 0.000001
func secID(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	switch {
	case strings.HasPrefix(code, "1.") || strings.HasPrefix(code, "0."):
		return code, nil
	case strings.HasPrefix(code, "sh") && len(code) == 8:
		return "1." + code[2:], nil
	case (strings.HasPrefix(code, "sz") || strings.HasPrefix(code, "bj")) && len(code) == 8:
		return "0." + code[2:], nil
	case len(code) == 6 && isDigits(code):
		if code[0] == '6' || code[0] == '9' || code[0] == '5' {
			return "1." + code, nil
		}
		return "0." + code, nil
	}
	return "", fmt.Errorf("股票代码格式错误: %s", code)
}

// bareCode 去掉市场前缀: sh600000 -> 600000
func bareCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexByte(code, '.'); i >= 0 {
		return code[i+1:]
	}
	if len(code) == 8 && !isDigits(code[:2]) {
		return code[2:]
	}
	return code
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// clampRange 过滤到 [start, end]（零值表示不限）并按时间排序、去重
func clampRange(bars []backtest.Bar, start, end time.Time) []backtest.Bar {
	out := bars[:0]
	for _, b := range bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	dedup := out[:0]
	for i, b := range out {
		if i > 0 && b.Time.Equal(dedup[len(dedup)-1].Time) {
			dedup[len(dedup)-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

// Open 按名称创建数据源: eastmoney | csv。cacheDir 非空时外包一层 parquet 缓存
func Open(source, dir, encoding, cacheDir string, logger *zap.Logger) (BarSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var src BarSource
	switch strings.ToLower(source) {
	case "", "eastmoney", "em":
		src = NewKLineFetcher(logger)
	case "csv":
		src = &CSVSource{Dir: dir, Encoding: encoding}
	default:
		return nil, fmt.Errorf("unknown data source %q", source)
	}
	if cacheDir != "" {
		src = &CachedSource{Store: NewParquetStore(cacheDir), Upstream: src, Logger: logger}
	}
	return src, nil
}

// LoadBars 按回测配置中的代码、周期和起止日期取数
func LoadBars(ctx context.Context, src BarSource, cfg backtest.Config) ([]backtest.Bar, error) {
	var start, end time.Time
	var err error
	if cfg.StartDate != "" {
		if start, err = trading.ParseDate(cfg.StartDate); err != nil {
			return nil, err
		}
	}
	if cfg.EndDate != "" {
		if end, err = trading.ParseDate(cfg.EndDate); err != nil {
			return nil, err
		}
	}
	bars, err := src.Fetch(ctx, cfg.Symbol, cfg.Period, start, end)
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", cfg.Symbol, err)
	}
	return bars, nil
}
