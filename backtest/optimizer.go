package backtest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GridAxis is one parameter and its candidate values.
type GridAxis struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// GridFromMap orders axes by parameter name.
func GridFromMap(m map[string][]any) []GridAxis {
	axes := make([]GridAxis, 0, len(m))
	for name, vals := range m {
		axes = append(axes, GridAxis{Name: name, Values: vals})
	}
	sort.Slice(axes, func(i, j int) bool { return axes[i].Name < axes[j].Name })
	return axes
}

// orderingRules name parameter pairs whose first value must stay below the
// second when a combination sets both.
var orderingRules = [][2]string{
	{"fast_period", "slow_period"},
	{"fast", "slow"},
	{"short_period", "long_period"},
	{"rsi_oversold", "rsi_overbought"},
}

// Violation reports the first ordering rule p breaks, or "".
func Violation(p Params) string {
	for _, r := range orderingRules {
		lo, ok1 := p.Float(r[0])
		hi, ok2 := p.Float(r[1])
		if ok1 && ok2 && lo >= hi {
			return fmt.Sprintf("%s=%v must be below %s=%v", r[0], p[r[0]], r[1], p[r[1]])
		}
	}
	return ""
}

var metricFuncs = map[string]func(Metrics) float64{
	"sharpe_ratio":  func(m Metrics) float64 { return m.SharpeRatio },
	"total_return":  func(m Metrics) float64 { return m.TotalReturn },
	"annual_return": func(m Metrics) float64 { return m.AnnualReturn },
	"win_rate":      func(m Metrics) float64 { return m.WinRate },
	"final_value":   func(m Metrics) float64 { return m.FinalValue },
	// Smaller drawdowns rank higher.
	"max_drawdown": func(m Metrics) float64 { return -m.MaxDrawdown },
}

func Metric(name string) (func(Metrics) float64, error) {
	f, ok := metricFuncs[name]
	if !ok {
		return nil, configError(ErrUnknownMetric, "%q", name)
	}
	return f, nil
}

func MetricNames() []string {
	names := make([]string, 0, len(metricFuncs))
	for n := range metricFuncs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

type TrialStatus string

const (
	TrialOK        TrialStatus = "ok"
	TrialFailed    TrialStatus = "failed"
	TrialSkipped   TrialStatus = "skipped"
	TrialAbandoned TrialStatus = "abandoned"
)

type Trial struct {
	Params  Params      `json:"params"`
	Status  TrialStatus `json:"status"`
	Score   float64     `json:"score"`
	Metrics *Metrics    `json:"metrics,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Optimizer struct {
	Config   Config
	Strategy string
	// BaseParams are merged under every combination.
	BaseParams Params
	Grid       []GridAxis
	Metric     string
	// Budget bounds the whole sweep. Combinations not finished in time are
	// abandoned; finished ones are kept.
	Budget  time.Duration
	Workers int
	Logger  *zap.Logger
}

type OptimizeResult struct {
	Metric     string   `json:"metric"`
	BestParams Params   `json:"best_params"`
	BestScore  float64  `json:"best_score"`
	Best       *Result  `json:"best_result"`
	Trials     []Trial  `json:"trials"`
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Abandoned  int      `json:"abandoned"`
	Elapsed    Duration `json:"elapsed"`
}

// Ranked returns the successful trials best first. Equal scores keep
// enumeration order.
func (r *OptimizeResult) Ranked() []Trial {
	var ok []Trial
	for _, t := range r.Trials {
		if t.Status == TrialOK {
			ok = append(ok, t)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Score > ok[j].Score })
	return ok
}

// Duration encodes as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// Combinations expands the grid into its Cartesian product, last axis
// varying fastest, each merged over base.
func Combinations(base Params, grid []GridAxis) ([]Params, error) {
	for _, a := range grid {
		if len(a.Values) == 0 {
			return nil, configError(nil, "grid axis %q has no values", a.Name)
		}
	}
	idx := make([]int, len(grid))
	var out []Params
	for {
		p := base.Clone()
		for i, a := range grid {
			p[a.Name] = a.Values[idx[i]]
		}
		out = append(out, p)

		k := len(grid) - 1
		for k >= 0 {
			idx[k]++
			if idx[k] < len(grid[k].Values) {
				break
			}
			idx[k] = 0
			k--
		}
		if k < 0 {
			return out, nil
		}
	}
}

// Run sweeps the grid. A failing combination is recorded and the sweep goes
// on; Run fails only when no combination succeeds.
func (o *Optimizer) Run(ctx context.Context, bars []Bar) (*OptimizeResult, error) {
	start := time.Now()
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	score, err := Metric(o.Metric)
	if err != nil {
		return nil, err
	}
	if _, err := NewStrategy(o.Strategy, nil); errors.Is(err, ErrUnknownStrategy) {
		return nil, err
	}
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, configError(ErrNoBars, "symbol %q", o.Config.Symbol)
	}
	combos, err := Combinations(o.BaseParams, o.Grid)
	if err != nil {
		return nil, err
	}

	if o.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Budget)
		defer cancel()
	}
	workers := o.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	res := &OptimizeResult{Metric: o.Metric, Total: len(combos), Trials: make([]Trial, len(combos))}
	results := make([]*Result, len(combos))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, p := range combos {
		res.Trials[i].Params = p
		if v := Violation(p); v != "" {
			res.Trials[i].Status = TrialSkipped
			res.Trials[i].Error = v
			continue
		}
		if ctx.Err() != nil {
			res.Trials[i].Status = TrialAbandoned
			continue
		}
		g.Go(func() error {
			t := &res.Trials[i]
			if ctx.Err() != nil {
				t.Status = TrialAbandoned
				return nil
			}
			r, err := Run(ctx, o.Config, StrategySpec{Type: o.Strategy, Params: p}, bars, nil)
			switch {
			case err != nil && ctx.Err() != nil && KindOf(err) == "":
				t.Status = TrialAbandoned
			case err != nil:
				t.Status = TrialFailed
				t.Error = err.Error()
				logger.Warn("parameter combination failed",
					zap.Int("combination", i),
					zap.Any("params", p),
					zap.Error(err),
				)
			default:
				t.Status = TrialOK
				t.Score = score(r.Metrics)
				m := r.Metrics
				t.Metrics = &m
				results[i] = r
			}
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	for i, t := range res.Trials {
		switch t.Status {
		case TrialOK:
			res.Successful++
			if best < 0 || t.Score > res.Trials[best].Score {
				best = i
			}
		case TrialFailed:
			res.Failed++
		case TrialSkipped:
			res.Skipped++
		case TrialAbandoned:
			res.Abandoned++
		}
	}
	res.Elapsed = Duration(time.Since(start))

	logger.Info("optimization finished",
		zap.String("strategy", o.Strategy),
		zap.String("metric", o.Metric),
		zap.Int("total", res.Total),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("abandoned", res.Abandoned),
		zap.Duration("elapsed", time.Duration(res.Elapsed)),
	)

	if best < 0 {
		return res, &RunError{
			Kind: KindCombination,
			Msg:  fmt.Sprintf("%d failed, %d skipped, %d abandoned of %d", res.Failed, res.Skipped, res.Abandoned, res.Total),
			Err:  ErrAllCombinationsFailed,
		}
	}
	res.BestParams = res.Trials[best].Params
	res.BestScore = res.Trials[best].Score
	res.Best = results[best]
	return res, nil
}
