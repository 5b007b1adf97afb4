package backtest

import "fmt"

type CTATrendParams struct {
	BBPeriod  int     `yaml:"bb_period" json:"bb_period"`
	BBDev     float64 `yaml:"bb_dev" json:"bb_dev"`
	ATRPeriod int     `yaml:"atr_period" json:"atr_period"`
	ATRMult   float64 `yaml:"atr_mult" json:"atr_mult"`
	Stake     int64   `yaml:"stake" json:"stake"`
}

func (p CTATrendParams) withDefaults() CTATrendParams {
	if p.BBPeriod <= 0 {
		p.BBPeriod = 20
	}
	if p.BBDev <= 0 {
		p.BBDev = 2
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = 14
	}
	if p.ATRMult <= 0 {
		p.ATRMult = 2
	}
	if p.Stake <= 0 {
		p.Stake = 100
	}
	return p
}

// CTATrend enters on a close above the upper Bollinger band and exits on an
// ATR stop below entry or a close under the middle band.
type CTATrend struct {
	p      CTATrendParams
	series priceSeries
	entry  float64
}

func NewCTATrend(p CTATrendParams) (*CTATrend, error) {
	return &CTATrend{p: p.withDefaults()}, nil
}

func newCTATrend(params Params) (Strategy, error) {
	var p CTATrendParams
	if err := params.decode(&p); err != nil {
		return nil, err
	}
	return NewCTATrend(p)
}

func (s *CTATrend) Name() string { return fmt.Sprintf("cta_trend(%d,%d)", s.p.BBPeriod, s.p.ATRPeriod) }

func (s *CTATrend) OnBar(bar Bar, acct AccountSnapshot) ([]Order, error) {
	s.series.push(bar)
	mid, ok1 := smaLast(s.series.closes, s.p.BBPeriod)
	sd, ok2 := stdLast(s.series.closes, s.p.BBPeriod)
	atr, ok3 := atrLast(s.series.highs, s.series.lows, s.series.closes, s.p.ATRPeriod)
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	upper := mid + s.p.BBDev*sd

	pos := acct.Holding()
	if pos.Size == 0 {
		if bar.Close > upper && sd > 0 {
			s.entry = bar.Close
			o := MarketOrder(SideBuy, s.p.Stake)
			o.Reason = "band_breakout"
			return []Order{o}, nil
		}
		return nil, nil
	}

	entry := s.entry
	if entry == 0 {
		entry = pos.AvgCost
	}
	switch {
	case bar.Close < entry-atr*s.p.ATRMult:
		o := MarketOrder(SideSell, pos.Size)
		o.Reason = "atr_stop"
		return []Order{o}, nil
	case bar.Close < mid:
		o := MarketOrder(SideSell, pos.Size)
		o.Reason = "mid_band_exit"
		return []Order{o}, nil
	}
	return nil, nil
}
