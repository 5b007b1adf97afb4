package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"quant/backtest"
	"quant/trading"
)

func day(s string) time.Time {
	t, err := trading.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSecID(t *testing.T) {
	cases := map[string]string{
		"sh600000": "1.600000",
		"sz000001": "0.000001",
		"600519":   "1.600519",
		"300750":   "0.300750",
		"1.600000": "1.600000",
	}
	for in, want := range cases {
		got, err := secID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := secID("abc")
	assert.Error(t, err)
	assert.Equal(t, "600000", bareCode("SH600000"))
	assert.Equal(t, "000001", bareCode("0.000001"))
}

const klineJSON = `{"data":{"code":"600000","klines":[
"2024-01-03,10.10,10.30,10.40,10.00,12345,1000.0",
"2024-01-02,10.00,10.10,10.20,9.90,23456,2000.0",
"bad line"
]}}`

func TestParseKLines(t *testing.T) {
	bars, err := parseKLines([]byte(klineJSON))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 10.30, bars[0].Close)
	assert.Equal(t, 10.40, bars[0].High)
	assert.Equal(t, int64(12345), bars[0].Volume)

	bars = clampRange(bars, time.Time{}, time.Time{})
	assert.Equal(t, "2024-01-02", bars[0].Date())

	bars, err = parseKLines([]byte(`{"data":null}`))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestKLineFetcherHTTP(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(klineJSON))
	}))
	defer srv.Close()

	f := NewKLineFetcher(nil)
	f.baseURL = srv.URL
	bars, err := f.Fetch(context.Background(), "sh600000", "daily", day("2024-01-03"), day("2024-12-31"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "2024-01-03", bars[0].Date())
	assert.Contains(t, query, "secid=1.600000")
	assert.Contains(t, query, "klt=101")
	assert.Contains(t, query, "beg=20240103")

	_, err = f.Fetch(context.Background(), "sh600000", "hourly", time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestReadCSV(t *testing.T) {
	data := "date,open,high,low,close,volume\n2024-01-02,10,10.5,9.8,10.2,1000\n2024-01-03,10.2,10.6,10.1,10.5,1500\n"
	bars, err := ReadCSV(strings.NewReader(data), "")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 10.5, bars[1].Close)
	assert.Equal(t, int64(1500), bars[1].Volume)

	_, err = ReadCSV(strings.NewReader("date,open\n2024-01-02,10\n"), "")
	assert.Error(t, err)
}

func TestReadCSVGBK(t *testing.T) {
	utf8 := "日期,开盘,收盘,最高,最低,成交量\n20240102,10,10.2,10.5,9.8,1000\n"
	gbk, err := simplifiedchinese.GBK.NewEncoder().String(utf8)
	require.NoError(t, err)

	bars, err := ReadCSV(strings.NewReader(gbk), "gbk")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 10.2, bars[0].Close)
	assert.Equal(t, 10.5, bars[0].High)
}

func TestParquetStoreRoundTrip(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	bars := []backtest.Bar{
		{Time: day("2023-12-29"), Open: 9, High: 9.5, Low: 8.8, Close: 9.2, Volume: 10},
		{Time: day("2024-01-02"), Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 20},
	}
	require.NoError(t, s.Write("sh600000", "daily", bars))
	// overwrite one day
	require.NoError(t, s.Write("sh600000", "daily", []backtest.Bar{
		{Time: day("2024-01-02"), Open: 10, High: 10.5, Low: 9.8, Close: 10.3, Volume: 21},
	}))

	got, err := s.Read("600000", "daily", day("2023-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2023-12-29", got[0].Date())
	assert.Equal(t, 10.3, got[1].Close)

	got, err = s.Read("000001", "daily", day("2023-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

type countingSource struct {
	calls      int
	bars       []backtest.Bar
	start, end time.Time
}

func (c *countingSource) Fetch(_ context.Context, _, _ string, start, end time.Time) ([]backtest.Bar, error) {
	c.calls++
	c.start, c.end = start, end
	return c.bars, nil
}

func TestCachedSource(t *testing.T) {
	up := &countingSource{bars: []backtest.Bar{
		{Time: day("2024-01-02"), Close: 10},
		{Time: day("2024-01-31"), Close: 11},
	}}
	c := &CachedSource{Store: NewParquetStore(t.TempDir()), Upstream: up}

	start, end := day("2024-01-01"), day("2024-02-01")
	_, err := c.Fetch(context.Background(), "600000", "daily", start, end)
	require.NoError(t, err)
	got, err := c.Fetch(context.Background(), "600000", "daily", start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)
	assert.Len(t, got, 2)
}

func TestOpen(t *testing.T) {
	src, err := Open("csv", "/tmp", "gbk", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &CSVSource{}, src)

	src, err = Open("eastmoney", "", "", t.TempDir(), nil)
	require.NoError(t, err)
	cached, ok := src.(*CachedSource)
	require.True(t, ok)
	assert.IsType(t, &KLineFetcher{}, cached.Upstream)

	_, err = Open("bloomberg", "", "", "", nil)
	assert.Error(t, err)
}

func TestLoadBars(t *testing.T) {
	up := &countingSource{bars: []backtest.Bar{{Time: day("2024-01-02"), Close: 10}}}
	cfg := backtest.DefaultConfig()
	cfg.Symbol = "600000"
	cfg.StartDate = "2024-01-01"
	cfg.EndDate = "2024-01-31"

	bars, err := LoadBars(context.Background(), up, cfg)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, day("2024-01-01"), up.start)
	assert.Equal(t, day("2024-01-31"), up.end)

	cfg.EndDate = "soon"
	_, err = LoadBars(context.Background(), up, cfg)
	assert.Error(t, err)
}
