package backtest

type BuyHoldParams struct {
	PositionPct float64 `yaml:"position_pct" json:"position_pct"`
	LotSize     int64   `yaml:"lot_size" json:"lot_size"`
}

// BuyHold buys once and never sells.
type BuyHold struct {
	p    BuyHoldParams
	done bool
}

func newBuyHold(params Params) (Strategy, error) {
	var p BuyHoldParams
	if err := params.decode(&p); err != nil {
		return nil, err
	}
	if p.PositionPct <= 0 || p.PositionPct > 1 {
		p.PositionPct = 1
	}
	if p.LotSize <= 0 {
		p.LotSize = 100
	}
	return &BuyHold{p: p}, nil
}

func (s *BuyHold) Name() string { return "buy_hold" }

func (s *BuyHold) OnBar(bar Bar, acct AccountSnapshot) ([]Order, error) {
	if s.done || acct.Holding().Size > 0 {
		s.done = true
		return nil, nil
	}
	size := budgetShares(acct.Cash, s.p.PositionPct, bar.Close, s.p.LotSize)
	if size <= 0 {
		return nil, nil
	}
	o := MarketOrder(SideBuy, size)
	o.Reason = "buy_hold"
	return []Order{o}, nil
}
