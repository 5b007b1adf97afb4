package backtest

import "github.com/shopspring/decimal"

// Commission is the A-share fee schedule: broker commission with a floor,
// plus stamp duty on the sell side only.
type Commission struct {
	Rate      float64
	StampDuty float64
	Min       float64
}

func (c Commission) Cost(side Side, price float64, size int64) float64 {
	value := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(size))
	fee := decimal.Max(value.Mul(decimal.NewFromFloat(c.Rate)), decimal.NewFromFloat(c.Min))
	if side == SideSell {
		fee = fee.Add(value.Mul(decimal.NewFromFloat(c.StampDuty)))
	}
	return fee.InexactFloat64()
}
