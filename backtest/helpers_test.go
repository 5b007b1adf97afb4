package backtest

import (
	"time"
)

func makeBars(closes ...float64) []Bar {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{Time: day.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

// scripted emits fixed orders on given bar indices.
type scripted struct {
	orders map[int][]Order
	i      int
	err    error
	errAt  int
	panic  bool
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) OnBar(bar Bar, acct AccountSnapshot) ([]Order, error) {
	i := s.i
	s.i++
	if s.err != nil && i == s.errAt {
		return nil, s.err
	}
	if s.panic && i == s.errAt {
		var m map[string]int
		m["boom"] = 1
	}
	return s.orders[i], nil
}

func noFees(cfg Config) Config {
	cfg.CommissionRate = 0
	cfg.StampDutyRate = 0
	cfg.MinCommission = 0
	return cfg
}
