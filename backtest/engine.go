package backtest

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultInstrument = "default"

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine replays bars through one strategy. An Engine runs once; drivers that
// need many runs build one Engine per run.
type Engine struct {
	cfg      Config
	strategy Strategy
	params   Params
	logger   *zap.Logger

	mu    sync.Mutex
	state State
	err   error
}

func NewEngine(cfg Config, s Strategy, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, strategy: s, logger: zap.NewNop(), state: StateIdle}
	for _, o := range opts {
		o(e)
	}
	return e
}

// WithParams records the options the strategy was built from on the result.
func WithParams(p Params) Option {
	return func(e *Engine) { e.params = p.Clone() }
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err is the error that moved the engine to StateFailed.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) setState(s State, err error) {
	e.mu.Lock()
	e.state, e.err = s, err
	e.mu.Unlock()
}

// Run walks bars in order. Setup problems fail before the run starts;
// a strategy error or panic aborts the run. Rejected orders are recorded
// on the result and never abort.
func (e *Engine) Run(ctx context.Context, bars []Bar) (*Result, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, configError(ErrEngineUsed, "state %s", e.state)
	}
	e.mu.Unlock()

	if err := e.validate(bars); err != nil {
		e.setState(StateFailed, err)
		return nil, err
	}
	e.setState(StateRunning, nil)

	res, err := e.loop(ctx, bars)
	if err != nil {
		e.setState(StateFailed, err)
		e.logger.Error("backtest failed",
			zap.String("symbol", e.cfg.Symbol),
			zap.String("strategy", e.strategy.Name()),
			zap.Error(err),
		)
		return nil, err
	}
	e.setState(StateCompleted, nil)
	e.logger.Info("backtest completed",
		zap.String("symbol", e.cfg.Symbol),
		zap.String("strategy", res.Strategy),
		zap.Int("bars", len(bars)),
		zap.Int("fills", res.Metrics.FillCount),
		zap.Int("rejections", len(res.Rejections)),
		zap.Float64("total_return", res.Metrics.TotalReturn),
		zap.Float64("sharpe", res.Metrics.SharpeRatio),
		zap.Float64("max_drawdown", res.Metrics.MaxDrawdown),
	)
	return res, nil
}

func (e *Engine) validate(bars []Bar) error {
	if e.strategy == nil {
		return configError(nil, "no strategy")
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	if len(bars) == 0 {
		return configError(ErrNoBars, "symbol %q", e.cfg.Symbol)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return configError(ErrBarsOutOfOrder, "bar %d (%s) after %s", i, bars[i].Date(), bars[i-1].Date())
		}
	}
	return nil
}

func (e *Engine) loop(ctx context.Context, bars []Bar) (*Result, error) {
	inst := e.cfg.Symbol
	if inst == "" {
		inst = defaultInstrument
	}
	broker := NewBroker(e.cfg, e.logger)
	res := &Result{
		Config:      e.cfg,
		Strategy:    e.strategy.Name(),
		Params:      e.params,
		Trades:      []Fill{},
		EquityCurve: make([]EquityPoint, 0, len(bars)),
	}
	prices := map[string]float64{}

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest interrupted at bar %d: %w", i, err)
		}
		date := bar.Date()

		snap := broker.Snapshot(date)
		snap.Instrument = inst
		orders, err := e.callStrategy(bar, snap)
		if err != nil {
			return nil, strategyError(err, "%s on %s", e.strategy.Name(), date)
		}

		for _, o := range orders {
			if o.Instrument == "" {
				o.Instrument = inst
			}
			o.SubmitDate = date
			fill, rej := broker.Submit(o, bar)
			if rej != nil {
				res.Rejections = append(res.Rejections, *rej)
				continue
			}
			e.logger.Debug("order filled",
				zap.String("date", date),
				zap.String("side", string(fill.Side)),
				zap.Int64("size", fill.Size),
				zap.Float64("price", fill.Price),
				zap.Float64("commission", fill.Commission),
			)
			res.Trades = append(res.Trades, fill)
		}

		broker.MarkBarClose(inst, bar)
		prices[inst] = bar.Close
		res.EquityCurve = append(res.EquityCurve, EquityPoint{
			Date:  date,
			Value: broker.AccountValue(prices),
			Cash:  broker.Cash(),
		})
	}

	res.Metrics = computeMetrics(e.cfg.InitialCash, res.EquityCurve, res.Trades)
	return res, nil
}

// callStrategy turns a panic in strategy code into a strategy error.
func (e *Engine) callStrategy(bar Bar, snap AccountSnapshot) (orders []Order, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.strategy.OnBar(bar, snap)
}

// Run builds a fresh strategy from spec and runs it over bars.
func Run(ctx context.Context, cfg Config, spec StrategySpec, bars []Bar, logger *zap.Logger) (*Result, error) {
	s, err := spec.Build()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := NewEngine(cfg, s, WithLogger(logger), WithParams(spec.Params)).Run(ctx, bars)
	if err == nil && logger != nil {
		logger.Debug("run timing", zap.String("strategy", s.Name()), zap.Duration("elapsed", time.Since(start)))
	}
	return res, err
}
