package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"quant/backtest"
	"quant/trading"
)

const eastMoneyKLineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"

// KLineFetcher 东方财富前复权K线拉取器
type KLineFetcher struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewKLineFetcher 创建K线数据拉取器
func NewKLineFetcher(logger *zap.Logger) *KLineFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KLineFetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: eastMoneyKLineURL,
		logger:  logger,
	}
}

// klt 周期参数: daily=101, weekly=102, monthly=103
func klt(period string) (int, error) {
	switch period {
	case "", "daily", "day", "1d":
		return 101, nil
	case "weekly", "week", "1w":
		return 102, nil
	case "monthly", "month", "1M":
		return 103, nil
	}
	return 0, fmt.Errorf("不支持的周期: %s", period)
}

// Fetch 获取股票K线
// symbol: 股票代码（如 sh600000, 000001）
func (f *KLineFetcher) Fetch(ctx context.Context, symbol, period string, start, end time.Time) ([]backtest.Bar, error) {
	secid, err := secID(symbol)
	if err != nil {
		return nil, err
	}
	k, err := klt(period)
	if err != nil {
		return nil, err
	}
	beg, endStr := "0", "20500101"
	if !start.IsZero() {
		beg = start.Format("20060102")
	}
	if !end.IsZero() {
		endStr = end.Format("20060102")
	}

	url := fmt.Sprintf(
		"%s?secid=%s&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57&klt=%d&fqt=1&beg=%s&end=%s&lmt=10000",
		f.baseURL, secid, k, beg, endStr,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("请求失败: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	bars, err := parseKLines(body)
	if err != nil {
		return nil, err
	}
	bars = clampRange(bars, start, end)
	f.logger.Debug("kline fetched",
		zap.String("symbol", symbol),
		zap.String("period", period),
		zap.Int("bars", len(bars)),
	)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}
	return bars, nil
}

// parseKLines 解析东方财富K线数据
func parseKLines(data []byte) ([]backtest.Bar, error) {
	var result struct {
		Data *struct {
			Klines []string `json:"klines"`
		} `json:"data"`
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析K线失败: %w", err)
	}
	if result.Data == nil {
		return nil, nil
	}

	bars := make([]backtest.Bar, 0, len(result.Data.Klines))
	for _, line := range result.Data.Klines {
		// 格式: 日期,开盘,收盘,最高,最低,成交量,成交额
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		t, err := trading.ParseDate(parts[0])
		if err != nil {
			continue
		}

		open, _ := strconv.ParseFloat(parts[1], 64)
		close, _ := strconv.ParseFloat(parts[2], 64)
		high, _ := strconv.ParseFloat(parts[3], 64)
		low, _ := strconv.ParseFloat(parts[4], 64)
		volume, _ := strconv.ParseInt(parts[5], 10, 64)

		bars = append(bars, backtest.Bar{
			Time:   t,
			Open:   open,
			Close:  close,
			High:   high,
			Low:    low,
			Volume: volume,
		})
	}
	return bars, nil
}
