package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(t *testing.T, s Strategy, bars []Bar, acct func(i int) AccountSnapshot) [][]Order {
	t.Helper()
	out := make([][]Order, len(bars))
	for i, b := range bars {
		orders, err := s.OnBar(b, acct(i))
		require.NoError(t, err)
		out[i] = orders
	}
	return out
}

func cashOnly(cash float64) func(int) AccountSnapshot {
	return func(int) AccountSnapshot {
		return AccountSnapshot{Instrument: "x", Cash: cash, Positions: map[string]PositionView{}}
	}
}

func TestNewStrategyAliasesAndUnknown(t *testing.T) {
	s, err := NewStrategy("simple_ma", nil)
	require.NoError(t, err)
	assert.Equal(t, "sma_cross(5,20)", s.Name())

	s, err = NewStrategy("sma_cross", Params{"short_period": 10, "long_period": 30})
	require.NoError(t, err)
	assert.Equal(t, "sma_cross(10,30)", s.Name())

	_, err = NewStrategy("martingale", nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, KindConfig, KindOf(err))

	_, err = NewStrategy("sma_cross", Params{"fast_period": 30, "slow_period": 10})
	assert.Equal(t, KindConfig, KindOf(err))

	assert.Contains(t, StrategyTypes(), "custom")
}

func TestParamsAccessors(t *testing.T) {
	p := Params{"a": 5, "b": 2.5, "c": "7", "d": "x"}
	n, ok := p.Int("a")
	assert.True(t, ok)
	assert.Equal(t, 5, n)
	_, ok = p.Int("b")
	assert.False(t, ok)
	f, ok := p.Float("c")
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)
	_, ok = p.Float("d")
	assert.False(t, ok)
	assert.Equal(t, "x", p.String("d"))

	c := p.Clone()
	c["a"] = 6
	assert.Equal(t, 5, p["a"])
}

func TestSMACrossSignals(t *testing.T) {
	// fall, then rise, then fall again
	var closes []float64
	for i := 0; i < 10; i++ {
		closes = append(closes, 20-float64(i))
	}
	for i := 0; i < 10; i++ {
		closes = append(closes, 11+float64(i))
	}
	for i := 0; i < 10; i++ {
		closes = append(closes, 20-float64(i))
	}
	bars := makeBars(closes...)

	s, err := NewSMACross(SMACrossParams{FastPeriod: 2, SlowPeriod: 5})
	require.NoError(t, err)

	var holding int64
	var sides []Side
	for _, b := range bars {
		acct := AccountSnapshot{
			Instrument: "x",
			Cash:       100000,
			Positions:  map[string]PositionView{"x": {Size: holding, Sellable: holding}},
		}
		orders, err := s.OnBar(b, acct)
		require.NoError(t, err)
		for _, o := range orders {
			sides = append(sides, o.Side)
			if o.Side == SideBuy {
				holding += o.Size
			} else {
				holding -= o.Size
			}
		}
	}
	assert.Equal(t, []Side{SideBuy, SideSell}, sides)
}

func TestSMACrossLimitOrders(t *testing.T) {
	s, err := NewStrategy("sma_cross", Params{"fast_period": 2, "slow_period": 3, "order_type": "limit"})
	require.NoError(t, err)
	out := feed(t, s, makeBars(10, 9, 8, 9, 11), cashOnly(100000))
	require.Len(t, out[4], 1)
	assert.Equal(t, OrderLimit, out[4][0].Type)
	assert.Equal(t, 11.0, out[4][0].Price)

	_, err = NewStrategy("sma_cross", Params{"order_type": "stop"})
	assert.Error(t, err)
}

func TestGridCrossesLevels(t *testing.T) {
	s, err := NewGrid(GridParams{GridNum: 4, PriceMin: 8, PriceMax: 12, StakePerGrid: 100})
	require.NoError(t, err)

	bars := makeBars(10.5, 8.5)
	out := feed(t, s, bars, cashOnly(100000))
	assert.Empty(t, out[0])
	// 10 and 9 fall through
	require.Len(t, out[1], 2)
	for _, o := range out[1] {
		assert.Equal(t, SideBuy, o.Side)
		assert.Equal(t, int64(100), o.Size)
	}

	acct := AccountSnapshot{Instrument: "x", Cash: 100000, Positions: map[string]PositionView{"x": {Size: 200, Sellable: 100}}}
	orders, err := s.OnBar(makeBars(11.5)[0], acct)
	require.NoError(t, err)
	// three levels crossed upward, only one stake sellable
	require.Len(t, orders, 1)
	assert.Equal(t, SideSell, orders[0].Side)
}

func TestGridRejectsBadRange(t *testing.T) {
	_, err := NewStrategy("grid", Params{"price_min": 12, "price_max": 8})
	assert.Error(t, err)
}

func TestMeanReversionFlatSeriesNeutral(t *testing.T) {
	s, err := NewStrategy("rsi", nil)
	require.NoError(t, err)
	out := feed(t, s, makeBars(flat(40, 10)...), cashOnly(100000))
	for _, o := range out {
		assert.Empty(t, o)
	}
}

func TestMeanReversionBuysOversold(t *testing.T) {
	closes := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, 20-0.5*float64(i))
	}
	s, err := NewMeanReversion(MeanReversionParams{RSIPeriod: 5})
	require.NoError(t, err)
	out := feed(t, s, makeBars(closes...), cashOnly(100000))
	require.Len(t, out[5], 1)
	assert.Equal(t, SideBuy, out[5][0].Side)
}

func TestCTATrendEntersOnBreakout(t *testing.T) {
	closes := []float64{10, 10.1, 9.9, 10, 10.1, 9.9, 10, 10.1, 9.9, 10, 11}
	bars := makeBars(closes...)
	for i := range bars {
		bars[i].High = bars[i].Close + 0.1
		bars[i].Low = bars[i].Close - 0.1
	}
	s, err := NewCTATrend(CTATrendParams{BBPeriod: 5, BBDev: 1.5, ATRPeriod: 3})
	require.NoError(t, err)
	out := feed(t, s, bars, cashOnly(100000))
	require.Len(t, out[10], 1)
	assert.Equal(t, SideBuy, out[10][0].Side)
	assert.Equal(t, "band_breakout", out[10][0].Reason)
}

func TestCustomRules(t *testing.T) {
	cfg := DefaultConfig()
	bars := makeBars(10, 9, 8, 9, 10, 11, 12)
	spec := StrategySpec{Type: "custom", Params: Params{
		"buy_when":  "index >= 2 && close < sma(3)",
		"sell_when": "sellable > 0 && close > highest(3) - 0.5",
		"stake":     200,
	}}
	res, err := Run(context.Background(), cfg, spec, bars, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	assert.Equal(t, SideBuy, res.Trades[0].Side)
	assert.Equal(t, int64(200), res.Trades[0].Size)
	assert.Equal(t, "2024-01-04", res.Trades[0].Date)
}

func TestCustomRejectsBadRules(t *testing.T) {
	_, err := NewStrategy("custom", Params{"buy_when": "close", "sell_when": "true"})
	assert.Error(t, err, "non-boolean rule")

	_, err = NewStrategy("custom", Params{"buy_when": "os.Exit(1)", "sell_when": "true"})
	assert.Error(t, err)

	_, err = NewStrategy("custom", Params{"buy_when": "true"})
	assert.Error(t, err)
}

func TestCustomRuleErrorNamesFailingBar(t *testing.T) {
	bars := makeBars(10, 10, 10, 10)
	for rule, want := range map[string]string{
		"10 % index == 0":                    "bar 0:",
		"index > 1 && 10 % (index - 2) == 0": "bar 2:",
	} {
		spec := StrategySpec{Type: "custom", Params: Params{"buy_when": rule, "sell_when": "false"}}
		_, err := Run(context.Background(), DefaultConfig(), spec, bars, nil)
		require.Error(t, err, rule)
		assert.Contains(t, err.Error(), want, rule)
	}
}
