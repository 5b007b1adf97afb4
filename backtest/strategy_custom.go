package backtest

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ruleEnv is everything a custom rule can see. Indicator functions look
// back over closes up to and including the current bar.
type ruleEnv struct {
	Open     float64 `expr:"open"`
	High     float64 `expr:"high"`
	Low      float64 `expr:"low"`
	Close    float64 `expr:"close"`
	Volume   int64   `expr:"volume"`
	Cash     float64 `expr:"cash"`
	Position int64   `expr:"position"`
	Sellable int64   `expr:"sellable"`
	Index    int     `expr:"index"`

	SMA     func(n int) float64 `expr:"sma"`
	EMA     func(n int) float64 `expr:"ema"`
	RSI     func(n int) float64 `expr:"rsi"`
	Highest func(n int) float64 `expr:"highest"`
	Lowest  func(n int) float64 `expr:"lowest"`
}

type CustomParams struct {
	BuyWhen     string  `yaml:"buy_when" json:"buy_when"`
	SellWhen    string  `yaml:"sell_when" json:"sell_when"`
	Stake       int64   `yaml:"stake" json:"stake,omitempty"`
	PositionPct float64 `yaml:"position_pct" json:"position_pct,omitempty"`
	LotSize     int64   `yaml:"lot_size" json:"lot_size"`
}

// Custom evaluates user-written boolean rules instead of running user code.
// Rules are compiled once against ruleEnv, so unknown names and non-boolean
// results fail when the strategy is built.
type Custom struct {
	p        CustomParams
	buy      *vm.Program
	sell     *vm.Program
	series   priceSeries
	barIndex int
}

func NewCustom(p CustomParams) (*Custom, error) {
	if p.BuyWhen == "" || p.SellWhen == "" {
		return nil, paramError("buy_when and sell_when are required")
	}
	if p.LotSize <= 0 {
		p.LotSize = 100
	}
	if p.Stake <= 0 && (p.PositionPct <= 0 || p.PositionPct > 1) {
		p.PositionPct = 0.9
	}
	buy, err := expr.Compile(p.BuyWhen, expr.Env(ruleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile buy_when: %w", err)
	}
	sell, err := expr.Compile(p.SellWhen, expr.Env(ruleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile sell_when: %w", err)
	}
	return &Custom{p: p, buy: buy, sell: sell}, nil
}

func newCustom(params Params) (Strategy, error) {
	var p CustomParams
	if err := params.decode(&p); err != nil {
		return nil, err
	}
	return NewCustom(p)
}

func (s *Custom) Name() string { return "custom" }

func (s *Custom) OnBar(bar Bar, acct AccountSnapshot) ([]Order, error) {
	s.series.push(bar)
	pos := acct.Holding()
	env := s.env(bar, acct.Cash, pos)
	s.barIndex++

	if pos.Size == 0 {
		ok, err := s.eval(s.buy, env)
		if err != nil || !ok {
			return nil, err
		}
		size := s.p.Stake
		if size <= 0 {
			size = budgetShares(acct.Cash, s.p.PositionPct, bar.Close, s.p.LotSize)
		}
		if size <= 0 {
			return nil, nil
		}
		o := MarketOrder(SideBuy, size)
		o.Reason = "buy_when"
		return []Order{o}, nil
	}

	ok, err := s.eval(s.sell, env)
	if err != nil || !ok {
		return nil, err
	}
	o := MarketOrder(SideSell, pos.Size)
	o.Reason = "sell_when"
	return []Order{o}, nil
}

func (s *Custom) eval(p *vm.Program, env ruleEnv) (bool, error) {
	out, err := expr.Run(p, env)
	if err != nil {
		return false, fmt.Errorf("bar %d: %w", env.Index, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (s *Custom) env(bar Bar, cash float64, pos PositionView) ruleEnv {
	closes := s.series.closes
	// Indicators without enough history read as 0.
	orZero := func(v float64, ok bool) float64 {
		if !ok {
			return 0
		}
		return v
	}
	return ruleEnv{
		Open:     bar.Open,
		High:     bar.High,
		Low:      bar.Low,
		Close:    bar.Close,
		Volume:   bar.Volume,
		Cash:     cash,
		Position: pos.Size,
		Sellable: pos.Sellable,
		Index:    s.barIndex,

		SMA:     func(n int) float64 { return orZero(smaLast(closes, n)) },
		EMA:     func(n int) float64 { return orZero(emaLast(closes, n)) },
		RSI:     func(n int) float64 { return orZero(rsiLast(closes, n)) },
		Highest: func(n int) float64 { return orZero(highestLast(s.series.highs, n)) },
		Lowest:  func(n int) float64 { return orZero(lowestLast(s.series.lows, n)) },
	}
}
