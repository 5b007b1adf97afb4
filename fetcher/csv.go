package fetcher

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"quant/backtest"
	"quant/trading"
)

// CSVSource 从本地CSV读取日K: <Dir>/<代码>.csv
// 表头支持英文 (date,open,high,low,close,volume) 和通达信/东财导出的中文列名。
type CSVSource struct {
	Dir string
	// Encoding 为 "gbk" 时按GBK解码，其余按UTF-8
	Encoding string
}

var csvColumns = map[string]string{
	"date": "date", "日期": "date", "时间": "date", "trade_date": "date",
	"open": "open", "开盘": "open", "开盘价": "open",
	"high": "high", "最高": "high", "最高价": "high",
	"low": "low", "最低": "low", "最低价": "low",
	"close": "close", "收盘": "close", "收盘价": "close",
	"volume": "volume", "成交量": "volume", "vol": "volume",
}

func (s *CSVSource) path(symbol string) string {
	return filepath.Join(s.Dir, bareCode(symbol)+".csv")
}

func (s *CSVSource) Fetch(ctx context.Context, symbol, period string, start, end time.Time) ([]backtest.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(symbol))
	if err != nil {
		return nil, fmt.Errorf("打开CSV失败: %w", err)
	}
	defer f.Close()

	bars, err := ReadCSV(f, s.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	bars = clampRange(bars, start, end)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}
	return bars, nil
}

// ReadCSV 解析带表头的K线CSV
func ReadCSV(r io.Reader, encoding string) ([]backtest.Bar, error) {
	if strings.EqualFold(encoding, "gbk") {
		r = transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if name, ok := csvColumns[h]; ok {
			idx[name] = i
		}
	}
	for _, need := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := idx[need]; !ok {
			return nil, fmt.Errorf("缺少列: %s", need)
		}
	}

	var bars []backtest.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("第%d行: %w", line, err)
		}
		field := func(name string) string {
			i, ok := idx[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		t, err := trading.ParseDate(field("date"))
		if err != nil {
			return nil, fmt.Errorf("第%d行: %w", line, err)
		}
		b := backtest.Bar{Time: t}
		for _, c := range []struct {
			name string
			dst  *float64
		}{{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}} {
			v, err := strconv.ParseFloat(field(c.name), 64)
			if err != nil {
				return nil, fmt.Errorf("第%d行 %s: %w", line, c.name, err)
			}
			*c.dst = v
		}
		if v := field("volume"); v != "" {
			vol, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("第%d行 volume: %w", line, err)
			}
			b.Volume = int64(vol)
		}
		bars = append(bars, b)
	}
	return bars, nil
}
