package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortfolioWeightedReturns(t *testing.T) {
	cfg := noFees(DefaultConfig())
	cfg.Symbol = "600000"
	bars := makeBars(10, 11)

	allocs := []Allocation{
		{Strategy: StrategySpec{Type: "buy_hold", Params: Params{"lot_size": 1}}, Weight: 3},
		{Strategy: StrategySpec{Type: "buy_hold", Params: Params{"position_pct": 0.5, "lot_size": 1}}, Weight: 2},
	}
	res, err := RunPortfolio(context.Background(), cfg, allocs, bars, nil)
	require.NoError(t, err)

	want := cfg.InitialCash * (0.6*1.10 + 0.4*1.05)
	assert.InDelta(t, want, res.Metrics.FinalValue, 100)
	assert.InDelta(t, (res.Metrics.FinalValue-cfg.InitialCash)/cfg.InitialCash, res.Metrics.TotalReturn, 1e-12)
	assert.Equal(t, 2, res.StrategyCount)
	require.Len(t, res.Strategies, 2)
	assert.InDelta(t, 0.6, res.Strategies[0].Weight, 1e-12)
	assert.InDelta(t, 60000, res.Strategies[0].Result.Metrics.InitialValue, 1e-9)

	require.Len(t, res.EquityCurve, 2)
	last := res.EquityCurve[1]
	assert.InDelta(t, res.Metrics.FinalValue, last.Value, 1e-6)

	require.Len(t, res.Trades, 2)
	for _, tr := range res.Trades {
		assert.Equal(t, "buy_hold", tr.Strategy)
	}
}

func TestPortfolioNeedsTwoStrategies(t *testing.T) {
	_, err := RunPortfolio(context.Background(), DefaultConfig(),
		[]Allocation{{Strategy: StrategySpec{Type: "buy_hold"}, Weight: 1}}, makeBars(10, 11), nil)
	assert.ErrorIs(t, err, ErrTooFewStrategies)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestPortfolioRejectsBadWeights(t *testing.T) {
	allocs := []Allocation{
		{Strategy: StrategySpec{Type: "buy_hold"}, Weight: 0},
		{Strategy: StrategySpec{Type: "buy_hold"}, Weight: 0},
	}
	_, err := RunPortfolio(context.Background(), DefaultConfig(), allocs, makeBars(10, 11), nil)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestPortfolioRejectsZeroWeightAllocation(t *testing.T) {
	allocs := []Allocation{
		{Strategy: StrategySpec{Type: "buy_hold"}, Weight: 1},
		{Strategy: StrategySpec{Type: "buy_hold"}, Weight: 0},
	}
	_, err := RunPortfolio(context.Background(), DefaultConfig(), allocs, makeBars(10, 11), nil)
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.Contains(t, err.Error(), "allocation 1")
	assert.NotContains(t, err.Error(), "initial_cash")
}

func TestPortfolioUnknownStrategy(t *testing.T) {
	allocs := []Allocation{
		{Strategy: StrategySpec{Type: "buy_hold"}, Weight: 1},
		{Strategy: StrategySpec{Type: "nope"}, Weight: 1},
	}
	_, err := RunPortfolio(context.Background(), DefaultConfig(), allocs, makeBars(10, 11), nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestMergeCurvesUnionOfDates(t *testing.T) {
	a := &Result{EquityCurve: []EquityPoint{{Date: "2024-01-02", Value: 10, Cash: 1}, {Date: "2024-01-03", Value: 11, Cash: 1}}}
	b := &Result{EquityCurve: []EquityPoint{{Date: "2024-01-03", Value: 20, Cash: 2}, {Date: "2024-01-04", Value: 21, Cash: 2}}}

	got := mergeCurves([]*Result{a, b})
	assert.Equal(t, []EquityPoint{
		{Date: "2024-01-02", Value: 10, Cash: 1},
		{Date: "2024-01-03", Value: 31, Cash: 3},
		{Date: "2024-01-04", Value: 21, Cash: 2},
	}, got)
}
