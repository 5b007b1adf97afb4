package backtest

import "fmt"

type SMACrossParams struct {
	FastPeriod int `yaml:"fast_period" json:"fast_period"`
	SlowPeriod int `yaml:"slow_period" json:"slow_period"`
	// Synonyms used by older configs.
	ShortPeriod int `yaml:"short_period" json:"short_period,omitempty"`
	LongPeriod  int `yaml:"long_period" json:"long_period,omitempty"`
	Fast        int `yaml:"fast" json:"fast,omitempty"`
	Slow        int `yaml:"slow" json:"slow,omitempty"`

	PositionPct float64 `yaml:"position_pct" json:"position_pct"`
	Stake       int64   `yaml:"stake" json:"stake,omitempty"`
	OrderType   string  `yaml:"order_type" json:"order_type"`
	LotSize     int64   `yaml:"lot_size" json:"lot_size"`
}

func (p SMACrossParams) withDefaults() SMACrossParams {
	for _, v := range []int{p.ShortPeriod, p.Fast} {
		if p.FastPeriod <= 0 {
			p.FastPeriod = v
		}
	}
	for _, v := range []int{p.LongPeriod, p.Slow} {
		if p.SlowPeriod <= 0 {
			p.SlowPeriod = v
		}
	}
	if p.FastPeriod <= 0 {
		p.FastPeriod = 5
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = 20
	}
	if p.PositionPct <= 0 || p.PositionPct > 1 {
		p.PositionPct = 0.9
	}
	if p.OrderType == "" {
		p.OrderType = string(OrderMarket)
	}
	if p.LotSize <= 0 {
		p.LotSize = 100
	}
	return p
}

// SMACross buys on a golden cross and sells the whole position on a death cross.
type SMACross struct {
	p      SMACrossParams
	closes []float64

	prevFast, prevSlow float64
	primed             bool
}

func NewSMACross(p SMACrossParams) (*SMACross, error) {
	p = p.withDefaults()
	if p.FastPeriod >= p.SlowPeriod {
		return nil, paramError("fast_period %d must be below slow_period %d", p.FastPeriod, p.SlowPeriod)
	}
	if err := checkOrderType(p.OrderType); err != nil {
		return nil, err
	}
	return &SMACross{p: p}, nil
}

func newSMACross(params Params) (Strategy, error) {
	var p SMACrossParams
	if err := params.decode(&p); err != nil {
		return nil, err
	}
	return NewSMACross(p)
}

func (s *SMACross) Name() string {
	return fmt.Sprintf("sma_cross(%d,%d)", s.p.FastPeriod, s.p.SlowPeriod)
}

func (s *SMACross) OnBar(bar Bar, acct AccountSnapshot) ([]Order, error) {
	s.closes = append(s.closes, bar.Close)
	fast, ok1 := smaLast(s.closes, s.p.FastPeriod)
	slow, ok2 := smaLast(s.closes, s.p.SlowPeriod)
	if !ok1 || !ok2 {
		return nil, nil
	}
	if !s.primed {
		s.prevFast, s.prevSlow, s.primed = fast, slow, true
		return nil, nil
	}
	cross := crossed(s.prevFast, s.prevSlow, fast, slow)
	s.prevFast, s.prevSlow = fast, slow

	pos := acct.Holding()
	switch {
	case cross > 0 && pos.Size == 0:
		size := s.p.Stake
		if size <= 0 {
			size = budgetShares(acct.Cash, s.p.PositionPct, bar.Close, s.p.LotSize)
		}
		if size < s.p.LotSize {
			return nil, nil
		}
		o := newOrder(s.p.OrderType, SideBuy, size, bar.Close)
		o.Reason = "golden_cross"
		return []Order{o}, nil
	case cross < 0 && pos.Size > 0:
		o := newOrder(s.p.OrderType, SideSell, pos.Size, bar.Close)
		o.Reason = "death_cross"
		return []Order{o}, nil
	}
	return nil, nil
}
