package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"quant/backtest"
	"quant/trading"
)

// BarRecord 是日K的Parquet落盘格式
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ParquetStore 按 <Dir>/<period>/<代码>/<年>.parquet 缓存K线
type ParquetStore struct {
	Dir string
}

func NewParquetStore(dir string) *ParquetStore {
	return &ParquetStore{Dir: dir}
}

func (s *ParquetStore) path(symbol, period string, year int) string {
	if period == "" {
		period = "daily"
	}
	return filepath.Join(s.Dir, period, strings.ToUpper(bareCode(symbol)), fmt.Sprintf("%d.parquet", year))
}

// Write 按年份合并写入，同一时间戳以新数据为准
func (s *ParquetStore) Write(symbol, period string, bars []backtest.Bar) error {
	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		y := b.Time.In(trading.CST).Year()
		groups[y] = append(groups[y], BarRecord{
			Symbol:    bareCode(symbol),
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	for year, records := range groups {
		path := s.path(symbol, period, year)
		existing, err := readRecords(path)
		if err != nil {
			return fmt.Errorf("读取 %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := parquet.WriteFile(path, mergeRecords(existing, records)); err != nil {
			return fmt.Errorf("写入 %s: %w", path, err)
		}
	}
	return nil
}

// Read 读取 [start, end] 内的K线，零值边界按今年处理
func (s *ParquetStore) Read(symbol, period string, start, end time.Time) ([]backtest.Bar, error) {
	now := time.Now().In(trading.CST)
	from, to := now.Year(), now.Year()
	if !start.IsZero() {
		from = start.In(trading.CST).Year()
	}
	if !end.IsZero() {
		to = end.In(trading.CST).Year()
	}

	var bars []backtest.Bar
	for year := from; year <= to; year++ {
		records, err := readRecords(s.path(symbol, period, year))
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			bars = append(bars, backtest.Bar{
				Time:   time.UnixMilli(r.Timestamp).In(trading.CST),
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	return clampRange(bars, start, end), nil
}

// readRecords 文件不存在时返回空
func readRecords(path string) ([]BarRecord, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return parquet.ReadFile[BarRecord](path)
}

func mergeRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}

// CachedSource 先查本地Parquet，缺失时回源并落盘
type CachedSource struct {
	Store    *ParquetStore
	Upstream BarSource
	Logger   *zap.Logger
}

func (c *CachedSource) Fetch(ctx context.Context, symbol, period string, start, end time.Time) ([]backtest.Bar, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cached, err := c.Store.Read(symbol, period, start, end)
	if err != nil {
		logger.Warn("parquet cache read failed", zap.String("symbol", symbol), zap.Error(err))
	} else if covers(cached, start, end) {
		logger.Debug("parquet cache hit", zap.String("symbol", symbol), zap.Int("bars", len(cached)))
		return cached, nil
	}

	bars, err := c.Upstream.Fetch(ctx, symbol, period, start, end)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Write(symbol, period, bars); err != nil {
		logger.Warn("parquet cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
	return bars, nil
}

// covers 粗略判断缓存是否覆盖区间：首尾K线距区间边界不超过一周
func covers(bars []backtest.Bar, start, end time.Time) bool {
	if len(bars) == 0 || start.IsZero() || end.IsZero() {
		return false
	}
	const slack = 7 * 24 * time.Hour
	first, last := bars[0].Time, bars[len(bars)-1].Time
	return first.Sub(start) <= slack && end.Sub(last) <= slack
}
