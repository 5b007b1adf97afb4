package backtest

import (
	"context"
	"runtime"
	"slices"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Allocation struct {
	Strategy StrategySpec `json:"strategy" yaml:"strategy"`
	Weight   float64      `json:"weight" yaml:"weight"`
}

// TaggedFill is a fill labelled with the sub-strategy that produced it.
type TaggedFill struct {
	Fill
	Strategy string `json:"strategy"`
}

type SubResult struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Result *Result `json:"result"`
}

type PortfolioResult struct {
	Config        Config        `json:"config"`
	Metrics       Metrics       `json:"metrics"`
	Trades        []TaggedFill  `json:"trading_records"`
	EquityCurve   []EquityPoint `json:"equity_curve"`
	Strategies    []SubResult   `json:"strategy_results"`
	StrategyCount int           `json:"strategy_count"`
}

// RunPortfolio splits cfg.InitialCash across allocs by normalized weight and
// runs every sub-strategy in its own engine. Sub-runs share nothing but bars.
//
// The combined drawdown is the worst sub-run drawdown, not the drawdown of
// the combined curve. Annual return, Sharpe and volatility are weight
// averages of the sub-runs.
func RunPortfolio(ctx context.Context, cfg Config, allocs []Allocation, bars []Bar, logger *zap.Logger) (*PortfolioResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(allocs) < 2 {
		return nil, configError(ErrTooFewStrategies, "got %d", len(allocs))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, configError(ErrNoBars, "symbol %q", cfg.Symbol)
	}
	weights, err := normalizeWeights(allocs)
	if err != nil {
		return nil, err
	}

	engines := make([]*Engine, len(allocs))
	for i, a := range allocs {
		s, err := a.Strategy.Build()
		if err != nil {
			return nil, err
		}
		sub := cfg
		sub.InitialCash = cfg.InitialCash * weights[i]
		engines[i] = NewEngine(sub, s,
			WithLogger(logger.With(zap.Int("sub", i), zap.String("strategy", s.Name()))),
			WithParams(a.Strategy.Params),
		)
	}

	results := make([]*Result, len(engines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, e := range engines {
		g.Go(func() error {
			res, err := e.Run(gctx, bars)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := combine(cfg, weights, results)
	logger.Info("portfolio backtest completed",
		zap.Int("strategies", len(results)),
		zap.Float64("final_value", out.Metrics.FinalValue),
		zap.Float64("total_return", out.Metrics.TotalReturn),
	)
	return out, nil
}

func normalizeWeights(allocs []Allocation) ([]float64, error) {
	var sum float64
	for i, a := range allocs {
		if !(a.Weight > 0) {
			return nil, configError(nil, "allocation %d (%s) needs a positive weight, got %v", i, a.Strategy.Type, a.Weight)
		}
		sum += a.Weight
	}
	if sum <= 0 {
		return nil, configError(nil, "allocation weights sum to %v", sum)
	}
	w := make([]float64, len(allocs))
	for i, a := range allocs {
		w[i] = a.Weight / sum
	}
	return w, nil
}

func combine(cfg Config, weights []float64, results []*Result) *PortfolioResult {
	out := &PortfolioResult{
		Config:        cfg,
		StrategyCount: len(results),
		Trades:        []TaggedFill{},
	}
	m := &out.Metrics
	m.InitialValue = cfg.InitialCash
	for i, r := range results {
		w := weights[i]
		rm := r.Metrics
		m.FinalValue += rm.FinalValue
		m.AnnualReturn += rm.AnnualReturn * w
		m.SharpeRatio += rm.SharpeRatio * w
		m.Volatility += rm.Volatility * w
		m.AvgDailyReturn += rm.AvgDailyReturn * w
		m.MaxDrawdown = max(m.MaxDrawdown, rm.MaxDrawdown)
		m.TotalTrades += rm.TotalTrades
		m.WonTrades += rm.WonTrades
		m.LostTrades += rm.LostTrades
		m.FillCount += rm.FillCount

		out.Strategies = append(out.Strategies, SubResult{Name: r.Strategy, Weight: w, Result: r})
		for _, f := range r.Trades {
			out.Trades = append(out.Trades, TaggedFill{Fill: f, Strategy: r.Strategy})
		}
	}
	if m.InitialValue > 0 {
		m.TotalReturn = (m.FinalValue - m.InitialValue) / m.InitialValue
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WonTrades) / float64(m.TotalTrades)
	}

	sort.SliceStable(out.Trades, func(i, j int) bool { return out.Trades[i].Date < out.Trades[j].Date })
	out.EquityCurve = mergeCurves(results)
	return out
}

// mergeCurves sums sub-run curves over the union of their dates. A sub-run
// with no point on a date contributes nothing to it.
func mergeCurves(results []*Result) []EquityPoint {
	byDate := map[string]*EquityPoint{}
	for _, r := range results {
		for _, p := range r.EquityCurve {
			acc, ok := byDate[p.Date]
			if !ok {
				acc = &EquityPoint{Date: p.Date}
				byDate[p.Date] = acc
			}
			acc.Value += p.Value
			acc.Cash += p.Cash
		}
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	slices.Sort(dates)
	curve := make([]EquityPoint, 0, len(dates))
	for _, d := range dates {
		curve = append(curve, *byDate[d])
	}
	return curve
}
